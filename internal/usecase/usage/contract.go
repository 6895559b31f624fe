package usage

// BudgetReader exposes token counters of the current periods. Limits of 0 mean unlimited.
type BudgetReader interface {
	DailyUsage() (used, limit int64)
	MonthlyUsage() (used, limit int64)
}
