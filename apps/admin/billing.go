package main

import (
	"fmt"
	"time"
)

// runBilling advances the billing clock: trials past their expiry date are
// cancelled and past-due enrollments get an overdue payment record, or a
// suspension once the grace period has passed. Meant to run daily from cron.
func (cli *commandLine) runBilling(asOf time.Time) error {
	expired, err := cli.enrollSvc.ExpireTrials(asOf)
	if err != nil {
		return err
	}
	overdue, err := cli.enrollSvc.MarkOverdue(asOf)
	if err != nil {
		return err
	}
	fmt.Printf("billing run complete: %d trials expired, %d enrollments past due\n", expired, overdue)
	return nil
}
