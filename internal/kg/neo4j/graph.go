package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/rennixue/question-app/pkg/circuitbreaker"
)

const maxSimilarMajors = 20

// MajorGraph reads the major similarity graph:
// (:Major {name})-[:SIMILAR_TO {similarity}]->(:Major {name}).
type MajorGraph struct {
	driver   neo4j.DriverWithContext
	database string
	cb       *circuitbreaker.Breaker
	log      *zap.Logger
}

func NewMajorGraph(ctx context.Context, uri, username, password, database string, log *zap.Logger) (*MajorGraph, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.New("neo4j", circuitbreaker.Config{
		HalfOpenRequests: 3,
		OpenTimeout:      20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           log,
	})

	log.Info("Neo4j client initialized", zap.String("uri", uri))

	return &MajorGraph{driver: driver, database: database, cb: cb, log: log}, nil
}

func (c *MajorGraph) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *MajorGraph) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// SimilarMajors lists majors linked to major with at least minSimilarity,
// most similar first.
func (c *MajorGraph) SimilarMajors(ctx context.Context, major string, minSimilarity float64) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return circuitbreaker.Call(ctx, c.cb, func() ([]string, error) {
		session := c.driver.NewSession(ctx, neo4j.SessionConfig{
			DatabaseName: c.database,
			AccessMode:   neo4j.AccessModeRead,
		})
		defer session.Close(ctx)

		query := `
			MATCH (m:Major {name: $major})-[r:SIMILAR_TO]->(s:Major)
			WHERE r.similarity >= $threshold
			RETURN s.name AS name
			ORDER BY r.similarity DESC
			LIMIT $limit
		`
		result, err := session.Run(ctx, query, map[string]any{
			"major":     major,
			"threshold": minSimilarity,
			"limit":     maxSimilarMajors,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query similar majors: %w", err)
		}

		var majors []string
		for result.Next(ctx) {
			name, _ := result.Record().Get("name")
			if s, ok := name.(string); ok && s != "" {
				majors = append(majors, s)
			}
		}
		if err := result.Err(); err != nil {
			return nil, fmt.Errorf("failed to read similar majors: %w", err)
		}

		c.log.Debug("Similar majors found", zap.String("major", major), zap.Strings("similar", majors))
		return majors, nil
	})
}
