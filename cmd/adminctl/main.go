// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// adminctl is the operator CLI for the ticketing core: enqueue recovery
// jobs, pause/resume mailboxes, inspect and replay the dead-letter queue,
// dry-run the routing predicate chain, and rescan for canonical-message
// collisions. It talks to internal/admin directly against the database —
// there is no admin HTTP surface today.
package main

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/oss-ticketing/journalcore/internal/admin"
	"github.com/oss-ticketing/journalcore/internal/config"
	"github.com/oss-ticketing/journalcore/internal/queue"
	"github.com/oss-ticketing/journalcore/internal/store"
)

func main() {
	app := &cli.App{
		Name:  "adminctl",
		Usage: "operate a journalcore deployment",
		Commands: []*cli.Command{
			backfillCommand(),
			historySyncCommand(),
			pauseCommand(),
			resumeCommand(),
			dlqListCommand(),
			dlqReplayCommand(),
			simulateRoutingCommand(),
			collisionBackfillCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "adminctl:", err)
		os.Exit(1)
	}
}

func newService() (*admin.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	svc := admin.New(store.New(db), queue.New(db, cfg.BackoffBase, cfg.BackoffCap))
	return svc, func() { db.Close() }, nil
}

var orgFlag = &cli.StringFlag{Name: "org", Usage: "organization id (uuid)", Required: true}
var mailboxFlag = &cli.StringFlag{Name: "mailbox", Usage: "mailbox id (uuid)", Required: true}

func parseUUID(c *cli.Context, flag string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.String(flag))
	if err != nil {
		return uuid.Nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return id, nil
}

func backfillCommand() *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "start a full mailbox backfill",
		Flags: []cli.Flag{orgFlag, mailboxFlag},
		Action: func(c *cli.Context) error {
			svc, closeFn, err := newService()
			if err != nil {
				return err
			}
			defer closeFn()

			orgID, err := parseUUID(c, "org")
			if err != nil {
				return err
			}
			mailboxID, err := parseUUID(c, "mailbox")
			if err != nil {
				return err
			}
			jobID, err := svc.EnqueueBackfill(c.Context, orgID, mailboxID)
			if err != nil {
				return err
			}
			fmt.Printf("enqueued backfill job %s\n", jobID)
			return nil
		},
	}
}

func historySyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "history-sync",
		Usage: "force an out-of-band incremental sync",
		Flags: []cli.Flag{orgFlag, mailboxFlag},
		Action: func(c *cli.Context) error {
			svc, closeFn, err := newService()
			if err != nil {
				return err
			}
			defer closeFn()

			orgID, err := parseUUID(c, "org")
			if err != nil {
				return err
			}
			mailboxID, err := parseUUID(c, "mailbox")
			if err != nil {
				return err
			}
			jobID, err := svc.EnqueueHistorySync(c.Context, orgID, mailboxID)
			if err != nil {
				return err
			}
			fmt.Printf("enqueued history sync job %s\n", jobID)
			return nil
		},
	}
}

func pauseCommand() *cli.Command {
	return &cli.Command{
		Name:  "pause",
		Usage: "pause a mailbox's sync jobs",
		Flags: []cli.Flag{
			orgFlag, mailboxFlag,
			&cli.DurationFlag{Name: "for", Value: time.Hour, Usage: "pause duration"},
			&cli.StringFlag{Name: "reason", Usage: "why the mailbox is being paused"},
		},
		Action: func(c *cli.Context) error {
			svc, closeFn, err := newService()
			if err != nil {
				return err
			}
			defer closeFn()

			orgID, err := parseUUID(c, "org")
			if err != nil {
				return err
			}
			mailboxID, err := parseUUID(c, "mailbox")
			if err != nil {
				return err
			}
			until := time.Now().Add(c.Duration("for"))
			return svc.PauseMailbox(c.Context, orgID, mailboxID, until, c.String("reason"))
		},
	}
}

func resumeCommand() *cli.Command {
	return &cli.Command{
		Name:  "resume",
		Usage: "resume a paused mailbox",
		Flags: []cli.Flag{orgFlag, mailboxFlag},
		Action: func(c *cli.Context) error {
			svc, closeFn, err := newService()
			if err != nil {
				return err
			}
			defer closeFn()

			orgID, err := parseUUID(c, "org")
			if err != nil {
				return err
			}
			mailboxID, err := parseUUID(c, "mailbox")
			if err != nil {
				return err
			}
			return svc.ResumeMailbox(c.Context, orgID, mailboxID)
		},
	}
}

func dlqListCommand() *cli.Command {
	return &cli.Command{
		Name:  "dlq-list",
		Usage: "list dead-letter jobs",
		Flags: []cli.Flag{
			orgFlag,
			&cli.IntFlag{Name: "limit", Value: 50},
		},
		Action: func(c *cli.Context) error {
			svc, closeFn, err := newService()
			if err != nil {
				return err
			}
			defer closeFn()

			orgID, err := parseUUID(c, "org")
			if err != nil {
				return err
			}
			jobs, err := svc.ListDeadJobs(c.Context, orgID, c.Int("limit"))
			if err != nil {
				return err
			}
			for _, j := range jobs {
				fmt.Printf("%s\t%s\tattempts=%d/%d\t%s\n", j.ID, j.Type, j.Attempts, j.MaxAttempts, j.LastError)
			}
			return nil
		},
	}
}

func dlqReplayCommand() *cli.Command {
	return &cli.Command{
		Name:  "dlq-replay",
		Usage: "requeue a dead job",
		Flags: []cli.Flag{&cli.StringFlag{Name: "job", Required: true}},
		Action: func(c *cli.Context) error {
			svc, closeFn, err := newService()
			if err != nil {
				return err
			}
			defer closeFn()

			jobID, err := uuid.Parse(c.String("job"))
			if err != nil {
				return fmt.Errorf("--job: %w", err)
			}
			return svc.ReplayJob(c.Context, jobID)
		},
	}
}

func simulateRoutingCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate-routing",
		Usage: "dry-run the routing predicate chain",
		Flags: []cli.Flag{
			orgFlag,
			&cli.StringFlag{Name: "recipient", Required: true},
			&cli.StringFlag{Name: "sender", Required: true},
			&cli.StringFlag{Name: "direction", Value: "inbound"},
		},
		Action: func(c *cli.Context) error {
			svc, closeFn, err := newService()
			if err != nil {
				return err
			}
			defer closeFn()

			orgID, err := parseUUID(c, "org")
			if err != nil {
				return err
			}
			result, err := svc.SimulateRouting(c.Context, orgID, c.String("recipient"), c.String("sender"), c.String("direction"))
			if err != nil {
				return err
			}
			fmt.Printf("allowlisted=%v would_mark_spam=%v matched_rule=%v actions=%v\n%s\n",
				result.Allowlisted, result.WouldMarkSpam, result.MatchedRuleID, result.AppliedActions, result.Explanation)
			return nil
		},
	}
}

func collisionBackfillCommand() *cli.Command {
	return &cli.Command{
		Name:  "collision-backfill",
		Usage: "rescan for canonical messages sharing a fingerprint but not yet grouped",
		Flags: []cli.Flag{orgFlag},
		Action: func(c *cli.Context) error {
			svc, closeFn, err := newService()
			if err != nil {
				return err
			}
			defer closeFn()

			orgID, err := parseUUID(c, "org")
			if err != nil {
				return err
			}
			n, err := svc.BackfillCollisionGroups(c.Context, orgID)
			if err != nil {
				return err
			}
			fmt.Printf("grouped %d collision set(s)\n", n)
			return nil
		},
	}
}
