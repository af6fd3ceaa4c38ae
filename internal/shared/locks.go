package shared

import "fmt"

// DeclarationLockKey builds redis keys serialising declaration generation
// per tenant and period.
func DeclarationLockKey(tenantID int64, year, month int) string {
	return fmt.Sprintf("declaration:%d:%04d%02d:lock", tenantID, year, month)
}
