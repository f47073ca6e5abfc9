// Command ledgerctl runs operator tasks against the wallet database: schema
// migration, limit policies, wallet status, reconciliation and reports.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/congo-pay/paymentwall/internal/auth"
	"github.com/congo-pay/paymentwall/internal/config"
	"github.com/congo-pay/paymentwall/internal/currency"
	"github.com/congo-pay/paymentwall/internal/infra"
	"github.com/congo-pay/paymentwall/internal/ledger"
	"github.com/congo-pay/paymentwall/internal/limits"
	"github.com/congo-pay/paymentwall/internal/logging"
	"github.com/congo-pay/paymentwall/internal/reconcile"
	"github.com/congo-pay/paymentwall/internal/wallet"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  migrate         apply the database schema
  policy          publish a new limit policy
  policy-show     print the current limit policy
  wallet-status   activate or suspend a wallet
  reconcile       compare balances with the ledger once
  report          summarise a user's income and expense
  token           issue an access token for a user
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		}
		os.Exit(1)
	}
}

type env struct {
	cfg    config.Config
	logger *logrus.Logger
	out    io.Writer
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errUsage
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	e := env{cfg: cfg, logger: logging.New(cfg.LogLevel), out: out}

	switch args[0] {
	case "migrate":
		return e.withDB(ctx, func(db *pgxpool.Pool) error {
			if err := infra.Migrate(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(out, "schema up to date")
			return nil
		})
	case "policy":
		return e.publishPolicy(ctx, args[1:])
	case "policy-show":
		return e.showPolicy(ctx)
	case "wallet-status":
		return e.walletStatus(ctx, args[1:])
	case "reconcile":
		return e.reconcile(ctx)
	case "report":
		return e.report(ctx, args[1:])
	case "token":
		return e.token(args[1:])
	default:
		fmt.Fprint(out, usage)
		return errUsage
	}
}

func (e env) withDB(ctx context.Context, fn func(*pgxpool.Pool) error) error {
	db, err := infra.NewPostgresPool(ctx, infra.PoolOptionsFrom(e.cfg))
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func (e env) publishPolicy(ctx context.Context, args []string) error {
	policy, err := parsePolicy(args, e.out)
	if err != nil {
		return err
	}
	return e.withDB(ctx, func(db *pgxpool.Pool) error {
		saved, err := limits.NewService(limits.NewPostgresStore(db), e.logger).Publish(ctx, policy)
		if err != nil {
			return err
		}
		return e.printJSON(policyView(saved))
	})
}

// parsePolicy reads policy bounds from flags; omitted bounds stay unbounded.
func parsePolicy(args []string, out io.Writer) (limits.Policy, error) {
	fs := flag.NewFlagSet("policy", flag.ContinueOnError)
	fs.SetOutput(out)
	minT := fs.String("min", "0", "minimum amount per transfer")
	maxT := fs.String("max", "0", "maximum amount per transfer")
	daily := fs.String("daily", "0", "maximum outgoing amount per day")
	monthly := fs.String("monthly", "0", "maximum outgoing amount per month")
	count := fs.Int("daily-count", 0, "maximum outgoing transfers per day")
	if err := fs.Parse(args); err != nil {
		return limits.Policy{}, errUsage
	}

	var policy limits.Policy
	for _, b := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"min", *minT, &policy.MinTransfer},
		{"max", *maxT, &policy.MaxTransfer},
		{"daily", *daily, &policy.DailyMaxTransfer},
		{"monthly", *monthly, &policy.MonthlyMaxTransfer},
	} {
		v, err := decimal.NewFromString(b.raw)
		if err != nil {
			return limits.Policy{}, fmt.Errorf("invalid -%s: %w", b.name, err)
		}
		*b.dst = v
	}
	policy.DailyMaxTransferCount = *count
	return policy, policy.Validate()
}

func (e env) showPolicy(ctx context.Context) error {
	return e.withDB(ctx, func(db *pgxpool.Pool) error {
		policy, ok, err := limits.NewService(limits.NewPostgresStore(db), e.logger).Current(ctx)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(e.out, "no limit policy published; transfers are unbounded")
			return nil
		}
		return e.printJSON(policyView(policy))
	})
}

func (e env) walletStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("wallet-status", flag.ContinueOnError)
	fs.SetOutput(e.out)
	id := fs.Int64("id", 0, "wallet id")
	status := fs.String("status", "", "active or suspended")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	parsed, err := wallet.ParseStatus(*status)
	if err != nil {
		return err
	}
	if !wallet.ValidID(*id) {
		return fmt.Errorf("invalid wallet id %d", *id)
	}
	return e.withDB(ctx, func(db *pgxpool.Pool) error {
		svc := wallet.NewService(wallet.NewPostgresStore(db), ledger.NewPostgresLedger(db), currency.NewDirectory(e.cfg.Currencies), e.logger)
		w, err := svc.SetStatus(ctx, *id, parsed)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "wallet %d is now %s\n", w.ID, w.Status)
		return nil
	})
}

func (e env) reconcile(ctx context.Context) error {
	return e.withDB(ctx, func(db *pgxpool.Pool) error {
		report, err := reconcile.New(wallet.NewPostgresStore(db), ledger.NewPostgresLedger(db), reconcile.Options{Logger: e.logger}).Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "checked %d wallets, skipped %d, %d findings\n", report.Checked, report.Skipped, len(report.Findings))
		for _, f := range report.Findings {
			fmt.Fprintf(e.out, "  %s: %s\n", f.Kind, f)
		}
		if !report.Clean() {
			return errors.New("ledger is inconsistent")
		}
		return nil
	})
}

func (e env) report(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	fs.SetOutput(e.out)
	user := fs.String("user", "", "user id")
	from := fs.String("from", "", "start date, YYYY-MM-DD (default 30 days ago)")
	to := fs.String("to", "", "end date, YYYY-MM-DD exclusive (default now)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *user == "" {
		return errors.New("-user is required")
	}
	window, err := reportWindow(*from, *to, time.Now().UTC())
	if err != nil {
		return err
	}
	return e.withDB(ctx, func(db *pgxpool.Pool) error {
		totals, err := ledger.Summarize(ctx, ledger.NewPostgresLedger(db), *user, window.From, window.To)
		if err != nil {
			return err
		}
		return e.printJSON(map[string]any{"user_id": *user, "from": window.From, "to": window.To, "summary": totals})
	})
}

func reportWindow(from, to string, now time.Time) (ledger.Filter, error) {
	var f ledger.Filter
	var err error
	if from != "" {
		if f.From, err = time.Parse(time.DateOnly, from); err != nil {
			return f, fmt.Errorf("invalid -from: %w", err)
		}
	}
	if to != "" {
		if f.To, err = time.Parse(time.DateOnly, to); err != nil {
			return f, fmt.Errorf("invalid -to: %w", err)
		}
	}
	f = f.Normalize(now)
	if !f.From.Before(f.To) {
		return f, errors.New("-from must be before -to")
	}
	return f, nil
}

func (e env) token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(e.out)
	user := fs.String("user", "", "user id")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	token, err := auth.NewTokens(e.cfg.JWTSecret, e.cfg.AppName).Issue(*user, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, token)
	return nil
}

func policyView(p limits.Policy) map[string]any {
	return map[string]any{
		"id":                       strconv.FormatInt(p.ID, 10),
		"min_transfer":             p.MinTransfer,
		"max_transfer":             p.MaxTransfer,
		"daily_max_transfer":       p.DailyMaxTransfer,
		"monthly_max_transfer":     p.MonthlyMaxTransfer,
		"daily_max_transfer_count": p.DailyMaxTransferCount,
		"created_at":               p.CreatedAt,
	}
}

func (e env) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
