package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func CaseLogStatusKey(logID uuid.UUID) string {
	return fmt.Sprintf("caselog:status:%s", logID)
}

func CompletionLockKey(logID uuid.UUID) string {
	return fmt.Sprintf("caselog:complete:%s", logID)
}

func CaseRunLockKey(caseID uuid.UUID) string {
	return fmt.Sprintf("testcase:run:%s", caseID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
