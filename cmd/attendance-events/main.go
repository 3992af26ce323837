// Command attendance-events tails the attendance topic and logs every
// ledger movement. It is meant for operators checking what the service
// emitted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ms-attendance/internal/config"
	"ms-attendance/internal/kafka"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/models"
)

func main() {
	log := logger.NewLogger("attendance-events")
	defer log.Close()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	groupID := os.Getenv("KAFKA_GROUP_ID")
	if groupID == "" {
		groupID = "attendance-events-tail"
	}
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, groupID, log)
	defer consumer.Close()

	log.Info("APP", fmt.Sprintf("Tailing %s as %s", cfg.Kafka.Topic, groupID))
	err = consumer.Start(ctx, func(e models.AttendanceEvent) {
		switch e.Type {
		case models.EventDepositChanged:
			log.LogLedger(e.AccountID, e.Amount, e.BalanceAfter, string(e.Type))
		default:
			log.LogAttendance(string(e.Type), e.AttendanceID,
				fmt.Sprintf("member %s session %s %s penalty %d", e.MemberID, e.SessionID, e.Outcome, e.Penalty))
			if e.Amount != 0 {
				log.LogLedger(e.AccountID, e.Amount, e.BalanceAfter, string(e.Outcome))
			}
		}
	})
	if err != nil {
		log.Error("KAFKA", err.Error())
	}
	log.Info("APP", "Consumer stopped")
}
