package question

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type RetrievalLimits struct {
	SameCourse     int
	SameUniversity int
	Historical     int
}

// Tiers holds the three retrieval results in emission order.
type Tiers [3]*Future[[]Question]

// Retriever runs the three search tiers one after another in a single
// background goroutine, publishing each tier as soon as it is known.
type Retriever struct {
	index  SearchIndex
	embed  Embedder
	majors MajorResolver
	limits RetrievalLimits
	log    *zap.Logger
}

func NewRetriever(index SearchIndex, embed Embedder, majors MajorResolver, limits RetrievalLimits, log *zap.Logger) *Retriever {
	return &Retriever{index: index, embed: embed, majors: majors, limits: limits, log: log}
}

type retrievalPlan struct {
	base     SearchQuery
	majorErr error
}

// Start launches retrieval. Every future is resolved before wg is released,
// including on cancellation and panic.
func (r *Retriever) Start(ctx context.Context, wg *sync.WaitGroup, req Request, synonyms []string) Tiers {
	tiers := Tiers{NewFuture[[]Question](), NewFuture[[]Question](), NewFuture[[]Question]()}
	wg.Add(1)
	go func() {
		defer wg.Done()
		next := 0
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("retriever panic: %v", rec)
				r.log.Error("Recovered panic in retriever", zap.Any("panic", rec))
				for ; next < len(tiers); next++ {
					tiers[next].Resolve(nil, err)
				}
			}
		}()

		plan, err := r.prepare(ctx, req, synonyms)
		if err != nil {
			for ; next < len(tiers); next++ {
				tiers[next].Resolve(nil, err)
			}
			return
		}

		seen := map[string]struct{}{}
		remember := func(qs []Question) {
			for _, q := range qs {
				seen[q.ID.String()] = struct{}{}
			}
		}

		sameCourse, err := r.sameCourse(ctx, plan.base)
		remember(sameCourse)
		tiers[0].Resolve(sameCourse, err)
		next++

		sameUniv, univErr := r.sameUniversity(ctx, plan.base)
		remember(sameUniv)
		tiers[1].Resolve(sameUniv, univErr)
		next++

		historical, err := r.historical(ctx, plan, univErr == nil)
		historical = dedupe(historical, seen)
		tiers[2].Resolve(historical, err)
		next++
	}()
	return tiers
}

func (r *Retriever) prepare(ctx context.Context, req Request, synonyms []string) (retrievalPlan, error) {
	plan := retrievalPlan{base: SearchQuery{
		Topic:      strings.ToLower(strings.TrimSpace(req.Topic)),
		Synonyms:   synonyms,
		Type:       req.Type,
		CourseCode: NormalizeCourseCode(req.CourseCode),
		University: strings.TrimSpace(req.University),
	}}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecs, err := r.embed.EmbedSeveral(gctx, plan.base.Topic, searchText(req))
		if err != nil {
			return fmt.Errorf("failed to embed search text: %w", err)
		}
		if len(vecs) != 2 {
			return fmt.Errorf("expected 2 embeddings, got %d", len(vecs))
		}
		plan.base.TopicVector, plan.base.QueryVector = vecs[0], vecs[1]
		return nil
	})
	if req.Major != "" && r.majors != nil {
		g.Go(func() error {
			majors, err := r.majors.SimilarMajors(gctx, req.Major)
			if err != nil {
				// No major filter is a usable fallback.
				plan.majorErr = err
				return nil
			}
			plan.base.Majors = majors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return plan, err
	}
	if plan.majorErr != nil {
		r.log.Warn("Failed to resolve majors, searching without major filter",
			zap.String("major", req.Major),
			zap.Error(plan.majorErr),
		)
	}
	return plan, nil
}

// searchText is embedded as the query side of the hybrid search.
func searchText(req Request) string {
	var parts []string
	if m := strings.TrimSpace(req.Major); m != "" {
		parts = append(parts, "<major>"+strings.ToLower(m)+"</major>")
	}
	if c := strings.TrimSpace(req.CourseName); c != "" {
		parts = append(parts, "<course-name>"+strings.ToLower(c)+"</course-name>")
	}
	if c := strings.TrimSpace(req.Context); c != "" {
		parts = append(parts, "This is a question related to the following context:\n"+c)
	}
	if len(parts) == 0 {
		return "This is a question related to " + strings.ToLower(strings.TrimSpace(req.Topic))
	}
	return strings.Join(parts, "\n\n")
}

func (r *Retriever) sameCourse(ctx context.Context, base SearchQuery) ([]Question, error) {
	if base.CourseCode == "" || base.University == "" {
		return nil, nil
	}
	q := base
	q.Limit = r.limits.SameCourse
	return r.index.SearchSameCourse(ctx, q)
}

func (r *Retriever) sameUniversity(ctx context.Context, base SearchQuery) ([]Question, error) {
	if base.University == "" {
		return nil, nil
	}
	q := base
	q.ExcludeCourseCode = base.CourseCode
	q.Limit = r.limits.SameUniversity
	return r.index.SearchSameUniversity(ctx, q)
}

// historical searches everywhere else. When the same-university tier ran,
// its university is excluded; when it failed, those questions are left in so
// this tier picks them up instead.
func (r *Retriever) historical(ctx context.Context, plan retrievalPlan, univOK bool) ([]Question, error) {
	q := plan.base
	q.Limit = r.limits.Historical
	if univOK && q.University != "" {
		q.ExcludeUniversity = q.University
	} else {
		q.ExcludeCourseCode = q.CourseCode
	}
	return r.index.SearchHistorical(ctx, q)
}

func dedupe(qs []Question, seen map[string]struct{}) []Question {
	out := qs[:0:0]
	for _, q := range qs {
		if _, ok := seen[q.ID.String()]; ok {
			continue
		}
		out = append(out, q)
	}
	return out
}
