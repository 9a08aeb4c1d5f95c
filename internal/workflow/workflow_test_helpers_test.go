package workflow

import (
	"github.com/stretchr/testify/mock"
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/drvault/internal/activity"
	"github.com/edvin/drvault/internal/model"
)

// registerActivities registers activity structs with the test workflow
// environment so that parameter and return types can be deserialized
// correctly by the Temporal test framework. In unit tests all
// activities are mocked via OnActivity, but the framework still needs
// the type information.
func registerActivities(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivity(&activity.Catalog{})
	env.RegisterActivity(&activity.Dump{})
	env.RegisterActivity(&activity.Codec{})
	env.RegisterActivity(&activity.Storage{})
	env.RegisterActivity(&activity.Verify{})
	env.RegisterActivity(&activity.Notifier{})
	env.RegisterActivity(&activity.Runbook{})
	env.RegisterActivity(&activity.ConfigSet{})
}

// matchFailedRecord matches a FailBackupRecordParams for the given
// record regardless of the exact message, which carries Temporal error
// wrapping that is not predictable in tests.
func matchFailedRecord(id, backupType string) interface{} {
	return mock.MatchedBy(func(params activity.FailBackupRecordParams) bool {
		return params.ID == id && params.Type == backupType && params.Message != ""
	})
}

// matchAlert matches a raised alert by type and severity.
func matchAlert(alertType, severity string) interface{} {
	return mock.MatchedBy(func(alert model.Alert) bool {
		return alert.Type == alertType && alert.Severity == severity
	})
}

// storedAlert is a convenient RaiseAlert return for fan-out tests.
func storedAlert(id string) activity.RaiseAlertResult {
	return activity.RaiseAlertResult{
		Alert:   &model.Alert{ID: id, Status: model.AlertActive, Count: 1},
		Deduped: false,
	}
}
