package repository

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/jupiterclapton/cenackle/services/activity-service/internal/core/domain"
)

type Neo4jRepo struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jRepo(driver neo4j.DriverWithContext) *Neo4jRepo {
	return &Neo4jRepo{driver: driver}
}

// label renvoie le label Neo4j de la cible. Jamais interpolé depuis une entrée utilisateur.
func label(kind domain.TargetKind) (string, error) {
	switch kind {
	case domain.TargetUser:
		return "User", nil
	case domain.TargetChannel:
		return "Channel", nil
	}
	return "", fmt.Errorf("%w: target kind %q", domain.ErrInvalidArgument, kind)
}

// EnsureSchema crée les contraintes d'unicité (et donc les index) sur les ids
func (r *Neo4jRepo) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	queries := []string{
		`CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
		`CREATE CONSTRAINT channel_id_unique IF NOT EXISTS FOR (c:Channel) REQUIRE c.id IS UNIQUE`,
	}
	for _, q := range queries {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, q, nil)
			return nil, err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Neo4jRepo) CreateRelation(ctx context.Context, actorID string, target domain.Target) error {
	l, err := label(target.Kind)
	if err != nil {
		return err
	}
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// MERGE est idempotent : noeuds et flèche créés seulement s'ils manquent
		query := `
			MERGE (a:User {id: $actorId})
			MERGE (b:` + l + ` {id: $targetId})
			MERGE (a)-[r:FOLLOWS]->(b)
			ON CREATE SET r.created_at = datetime()
		`
		_, err := tx.Run(ctx, query, map[string]any{
			"actorId":  actorID,
			"targetId": target.ID,
		})
		return nil, err
	})
	return err
}

func (r *Neo4jRepo) DeleteRelation(ctx context.Context, actorID string, target domain.Target) error {
	l, err := label(target.Kind)
	if err != nil {
		return err
	}
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (a:User {id: $actorId})-[r:FOLLOWS]->(b:` + l + ` {id: $targetId})
			DELETE r
		`
		_, err := tx.Run(ctx, query, map[string]any{"actorId": actorID, "targetId": target.ID})
		return nil, err
	})
	return err
}

func (r *Neo4jRepo) Exists(ctx context.Context, actorID string, target domain.Target) (bool, error) {
	l, err := label(target.Kind)
	if err != nil {
		return false, err
	}
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (a:User {id: $actorId})-[:FOLLOWS]->(b:` + l + ` {id: $targetId})
			RETURN count(*) > 0 AS following
		`
		res, err := tx.Run(ctx, query, map[string]any{"actorId": actorID, "targetId": target.ID})
		if err != nil {
			return false, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return false, err
		}
		following, _, err := neo4j.GetRecordValue[bool](rec, "following")
		return following, err
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// StreamFollowers : la méthode pour le Fan-out, pousse les ids par paquets via yield
func (r *Neo4jRepo) StreamFollowers(ctx context.Context, userID string, batchSize int, yield func([]string) error) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	// Pas d'ExecuteRead : on veut streamer le résultat manuellement
	query := `MATCH (u:User {id: $userId})<-[:FOLLOWS]-(f:User) RETURN f.id AS followerId`

	res, err := session.Run(ctx, query, map[string]any{"userId": userID})
	if err != nil {
		return err
	}

	batch := make([]string, 0, batchSize)
	for res.Next(ctx) {
		id, _, err := neo4j.GetRecordValue[string](res.Record(), "followerId")
		if err != nil {
			return err
		}
		batch = append(batch, id)

		if len(batch) >= batchSize {
			if err := yield(batch); err != nil {
				return err
			}
			batch = make([]string, 0, batchSize)
		}
	}

	if len(batch) > 0 {
		if err := yield(batch); err != nil {
			return err
		}
	}
	return res.Err()
}

// ListFollowing : les users suivis par userID (les channels suivis n'y figurent pas)
func (r *Neo4jRepo) ListFollowing(ctx context.Context, userID string) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `MATCH (:User {id: $userId})-[:FOLLOWS]->(t:User) RETURN t.id AS id ORDER BY id`
		res, err := tx.Run(ctx, query, map[string]any{"userId": userID})
		if err != nil {
			return nil, err
		}
		ids := []string{}
		for res.Next(ctx) {
			id, _, err := neo4j.GetRecordValue[string](res.Record(), "id")
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}
