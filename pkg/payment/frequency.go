package payment

import "fmt"

// Provider frequency types.
const (
	FrequencyDays   = "days"
	FrequencyMonths = "months"
)

// Frequency maps a catalog billing cycle onto the provider's recurrence.
func Frequency(cycle string) (int, string, error) {
	switch cycle {
	case "daily":
		return 1, FrequencyDays, nil
	case "weekly":
		return 7, FrequencyDays, nil
	case "monthly":
		return 1, FrequencyMonths, nil
	case "yearly":
		return 12, FrequencyMonths, nil
	}
	return 0, "", fmt.Errorf("%w: %q", ErrUnsupportedCycle, cycle)
}
