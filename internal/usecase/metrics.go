package usecase

import (
	"time"

	"NewsDigest/internal/domain"
)

type nopMetrics struct{}

func (nopMetrics) RecordIngest(domain.InsertResult)     {}
func (nopMetrics) RecordSummarizeAttempt(string)        {}
func (nopMetrics) RecordTransition(domain.Stage)        {}
func (nopMetrics) RecordDelivery(domain.DeliveryStatus) {}
func (nopMetrics) RecordRun(string, time.Duration)      {}
