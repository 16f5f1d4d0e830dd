package main

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymowl/gymowl/pkg/config"
	"github.com/gymowl/gymowl/pkg/scheduler"
)

func inMemoryConfig() *config.Config {
	return &config.Config{
		Billing: config.BillingConfig{
			Timezone:         "UTC",
			Location:         time.UTC,
			ReminderDays:     7,
			PaymentTermsDays: 7,
		},
		Scheduler: config.SchedulerConfig{
			Enabled:      true,
			ReminderCron: "0 8 * * *",
			RenewalCron:  "0 1 * * *",
			OverdueCron:  "0 9 * * *",
			JobTimeout:   time.Minute,
		},
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestRun_RunOnce(t *testing.T) {
	err := run(inMemoryConfig(), &Options{RunOnce: scheduler.JobOverdueInvoices}, quietLogger())
	assert.NoError(t, err)
}

func TestRun_UnknownJobIsReturned(t *testing.T) {
	err := run(inMemoryConfig(), &Options{RunOnce: "refund-everyone"}, quietLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, scheduler.ErrUnknownJob)
	assert.Contains(t, err.Error(), "refund-everyone")
}

func TestRun_BadScheduleIsReturned(t *testing.T) {
	cfg := inMemoryConfig()
	cfg.Scheduler.RenewalCron = "every tuesday"

	err := run(cfg, &Options{ListJobs: true}, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to register billing jobs")
}
