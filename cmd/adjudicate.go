package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/benefit-engine/internal/model"
)

var (
	adjudicateFile string
	adjudicateOut  string
)

var adjudicateCmd = &cobra.Command{
	Use:   "adjudicate",
	Short: "Adjudicate claims from a JSON file",
	Long:  "Reads a JSON array of claims, adjudicates every line and writes the claim results as JSON.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		claims, err := readClaims(adjudicateFile)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, cfg, "adjudicate")
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := processClaims(ctx, claims, cfg.Adjudication.MaxConcurrentClaims, env.Engine.AdjudicateClaim)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if adjudicateOut != "" {
			f, err := os.Create(adjudicateOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", adjudicateOut)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		return writeJSON(out, results)
	},
}

func init() {
	adjudicateCmd.Flags().StringVar(&adjudicateFile, "file", "", "claims JSON file (array of claims)")
	adjudicateCmd.Flags().StringVar(&adjudicateOut, "out", "", "write results to this file instead of stdout")
	_ = adjudicateCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(adjudicateCmd)
}

func readClaims(path string) ([]model.Claim, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, eris.Wrapf(err, "read claims %s", path)
	}
	var claims []model.Claim
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, eris.Wrapf(err, "parse claims %s", path)
	}
	return claims, nil
}

// adjudicateFunc is the callback signature for adjudicating one claim.
type adjudicateFunc func(ctx context.Context, claim model.Claim) (model.ClaimResult, error)

// processClaims adjudicates claims with bounded concurrency. Claims of one
// member run one after another in file order so their accumulators are
// consumed in arrival order; distinct members run in parallel. Results
// come back in input order. A malformed claim is logged and left out.
func processClaims(ctx context.Context, claims []model.Claim, concurrency int, adjudicate adjudicateFunc) ([]model.ClaimResult, error) {
	if len(claims) == 0 {
		zap.L().Info("no claims to adjudicate")
		return []model.ClaimResult{}, nil
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	var members []string
	byMember := map[string][]int{}
	for i, c := range claims {
		if _, ok := byMember[c.MemberID]; !ok {
			members = append(members, c.MemberID)
		}
		byMember[c.MemberID] = append(byMember[c.MemberID], i)
	}

	zap.L().Info("adjudicating claims",
		zap.Int("claims", len(claims)),
		zap.Int("members", len(members)),
		zap.Int("concurrency", concurrency),
	)

	results := make([]*model.ClaimResult, len(claims))
	var succeeded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, member := range members {
		idx := byMember[member]
		g.Go(func() error {
			for _, i := range idx {
				log := zap.L().With(zap.String("claim_id", claims[i].ID))
				res, err := adjudicate(gctx, claims[i])
				if err != nil {
					failed.Add(1)
					log.Error("claim rejected", zap.Error(err))
					continue
				}
				succeeded.Add(1)
				log.Debug("claim adjudicated", zap.String("outcome", string(res.Outcome)))
				results[i] = &res
			}
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "adjudicate claims")
	}

	out := make([]model.ClaimResult, 0, len(claims))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}

	zap.L().Info("adjudication complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return out, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode output")
}
