// Package scheduler runs the daily billing jobs on cron schedules.
//
//	sched := scheduler.New(scheduler.Config{Location: loc, JobTimeout: 30 * time.Minute}, logger,
//		scheduler.WithLocker(scheduler.NewRedisLocker(redisClient, "")))
//	if err := sched.RegisterAll(scheduler.BillingJobs(svc, scheduler.DefaultSchedules)); err != nil {
//		return err
//	}
//	sched.Start()
//	defer sched.Stop(ctx)
//
// Each run gets its own timeout. Runs of the same job that overlap inside a
// process are collapsed into one, and the optional Redis lock keeps two
// instances from running the same job at once.
package scheduler
