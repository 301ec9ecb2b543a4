package reconciler

import (
	"fmt"

	"printflow/internal/certificate/models"
	"printflow/internal/print/messages"
)

// statusMapping translates the provider's (step, verdict) pair into an
// internal status. Pairs outside this table are contract drift: they are
// reported and dropped rather than guessed at.
var statusMapping = map[messages.StatusStep]map[messages.BatchResponseStatus]models.Status{
	messages.StepProcessed: {
		messages.BatchResponseSuccess: models.StatusValidatedByPrintProvider,
		messages.BatchResponseFailed:  models.StatusValidationFailed,
	},
	messages.StepInProduction: {
		messages.BatchResponseSuccess: models.StatusInProduction,
		messages.BatchResponseFailed:  models.StatusProductionFailed,
	},
	messages.StepDispatched: {
		messages.BatchResponseSuccess: models.StatusDispatched,
		messages.BatchResponseFailed:  models.StatusDispatchFailed,
	},
	messages.StepNotDelivered: {
		messages.BatchResponseSuccess: models.StatusNotDelivered,
	},
}

func mapProviderStatus(step messages.StatusStep, status messages.BatchResponseStatus) (models.Status, error) {
	if mapped, ok := statusMapping[step][status]; ok {
		return mapped, nil
	}
	return "", fmt.Errorf("no status mapping for step %q with status %q", step, status)
}
