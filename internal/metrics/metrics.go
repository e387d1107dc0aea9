// Package metrics содержит счётчики Prometheus движка доступа.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PaymentsApplied количество платежей, зачисленных с продлением подписки.
	PaymentsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "access_engine_payments_applied_total",
		Help: "Payments that resulted in a subscription extension.",
	})
	// PaymentsDuplicate количество повторных доставок уже зачисленных платежей.
	PaymentsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "access_engine_payments_duplicate_total",
		Help: "Duplicate payment notifications ignored by the idempotency guard.",
	})
	// PaymentsRejected количество платежей, отклонённых валидацией.
	PaymentsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "access_engine_payments_rejected_total",
		Help: "Payments rejected by amount or currency validation.",
	})
	// TrialsGranted количество выданных пробных периодов.
	TrialsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "access_engine_trials_granted_total",
		Help: "Trials granted to users.",
	})
	// CredentialsIssued количество выпущенных учётных данных.
	CredentialsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "access_engine_credentials_issued_total",
		Help: "Proxy credentials created.",
	})
	// CredentialsRotated количество ротаций учётных данных.
	CredentialsRotated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "access_engine_credentials_rotated_total",
		Help: "Proxy credentials rotated.",
	})
	// SecretCollisions количество коллизий секретов при генерации.
	SecretCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "access_engine_secret_collisions_total",
		Help: "Secret uniqueness violations retried during generation.",
	})
)
