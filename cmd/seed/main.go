// Command seed loads a demo cohort: members, deposit accounts and one
// session with a live access token. With -reset the schema is dropped first
// (SQLite and MySQL only).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"ms-attendance/internal/apperror"
	"ms-attendance/internal/attendance"
	attendance_db "ms-attendance/internal/attendance/db"
	lock "ms-attendance/internal/attendance/redis"
	"ms-attendance/internal/config"
	"ms-attendance/internal/database"
	"ms-attendance/internal/database/migrations"
	"ms-attendance/internal/logger"
	"ms-attendance/internal/member"
	member_db "ms-attendance/internal/member/db"
	"ms-attendance/internal/models"
	"ms-attendance/internal/session"
	session_db "ms-attendance/internal/session/db"
)

var members = []models.Member{
	{ID: "member-001", Name: "Kim Minji", Status: models.MemberActive},
	{ID: "member-002", Name: "Lee Jun", Status: models.MemberActive},
	{ID: "member-003", Name: "Park Seoyeon", Status: models.MemberActive},
	{ID: "member-004", Name: "Choi Hyun", Status: models.MemberActive},
}

// withdrawnID is enrolled and then withdrawn so the demo has a member whose
// check-ins are refused.
const withdrawnID = "member-004"

func main() {
	cohort := flag.String("cohort", "cohort-1", "cohort to enroll the demo members in")
	reset := flag.Bool("reset", false, "drop and recreate the schema before seeding")
	flag.Parse()

	log := logger.NewLogger("seed")
	defer log.Close()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	ctx := context.Background()
	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if cfg.Database.Driver == database.DriverPostgres {
		if err := migrations.NewRunner(bunDB, log).Up(); err != nil {
			log.Fatal("MIGRATE", err.Error())
		}
	} else {
		if *reset {
			log.Warn("DATABASE", "Dropping schema")
			if err := database.DropSchema(ctx, bunDB); err != nil {
				log.Fatal("DATABASE", err.Error())
			}
		}
		if err := database.CreateSchema(ctx, bunDB); err != nil {
			log.Fatal("DATABASE", err.Error())
		}
	}

	now := time.Now().UTC()
	for i := range members {
		members[i].CreatedAt, members[i].UpdatedAt = now, now
	}
	if _, err := bunDB.NewInsert().Model(&members).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		// MySQL has no ON CONFLICT; fall back to one insert per row.
		for i := range members {
			if _, err := bunDB.NewInsert().Model(&members[i]).Ignore().Exec(ctx); err != nil {
				log.Error("SEED", fmt.Sprintf("Insert member %s: %v", members[i].ID, err))
			}
		}
	}
	log.Info("SEED", fmt.Sprintf("Members ready: %d", len(members)))

	attendanceService := attendance.NewService(attendance_db.New(bunDB), lock.NewLocalLocker(), nil, log)
	attendanceService.InitialDeposit = cfg.Attendance.InitialDeposit
	for _, m := range members {
		acc, err := attendanceService.OpenAccount(ctx, attendance.OpenAccountRequest{
			MemberID:       m.ID,
			CohortID:       *cohort,
			InitialDeposit: &cfg.Attendance.InitialDeposit,
		})
		switch {
		case errors.Is(err, apperror.ErrAccountExists):
			log.Info("SEED", fmt.Sprintf("Account for %s already open", m.ID))
		case err != nil:
			log.Fatal("SEED", err.Error())
		default:
			log.Info("SEED", fmt.Sprintf("Opened account %s for %s with %d", acc.ID, m.ID, acc.Balance))
		}
	}

	memberService := member.NewService(member_db.New(bunDB), attendanceService, log)
	_, err = memberService.WithdrawMember(ctx, withdrawnID)
	switch {
	case errors.Is(err, apperror.ErrMemberAlreadyWithdrawn):
		log.Info("SEED", fmt.Sprintf("Member %s already withdrawn", withdrawnID))
	case err != nil:
		log.Fatal("SEED", err.Error())
	default:
		log.Info("SEED", fmt.Sprintf("Member %s withdrawn", withdrawnID))
	}

	sessionService := session.NewService(session_db.New(bunDB), log)
	sessionService.TokenTTL = cfg.Attendance.TokenTTL
	sessionService.TimeZone = cfg.Attendance.TimeZone

	loc, err := time.LoadLocation(cfg.Attendance.TimeZone)
	if err != nil {
		log.Fatal("CONFIG", err.Error())
	}
	start := now.In(loc).Add(30 * time.Minute)
	created, err := sessionService.CreateSession(ctx, session.CreateRequest{
		CohortID: *cohort,
		Title:    "Demo study session",
		Date:     start.Format("2006-01-02"),
		Time:     start.Format("15:04"),
		Location: "Main hall",
	})
	if err != nil {
		log.Fatal("SEED", err.Error())
	}
	inProgress := models.SessionInProgress
	if _, err := sessionService.UpdateSession(ctx, created.Session.ID, session.UpdateRequest{Status: &inProgress}); err != nil {
		log.Fatal("SEED", err.Error())
	}

	log.Info("SEED", fmt.Sprintf("Session %s starts %s %s, check-in token %s (expires %s)",
		created.Session.ID, created.Session.Date, created.Session.Time,
		created.Token.Value, created.Token.ExpiresAt.Format(time.RFC3339)))
}
