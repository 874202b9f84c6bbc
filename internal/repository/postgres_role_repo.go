package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/podcastadmin/internal/model"
)

// PostgresRoleRepo はPostgreSQLを使用した権限付与リポジトリ。
type PostgresRoleRepo struct {
	db *sql.DB
}

// NewPostgresRoleRepo はPostgresRoleRepoを生成する。
func NewPostgresRoleRepo(db *sql.DB) *PostgresRoleRepo {
	return &PostgresRoleRepo{db: db}
}

// Grant は権限を付与する。
// ユーザーの存在確認とINSERTを1文で行い、存在しない場合は何も書き込まない。
// (user_id, name, resource_type, resource_id) のユニークインデックスにより付与は冪等になる。
func (r *PostgresRoleRepo) Grant(ctx context.Context, userID int64, capability model.Capability, ref model.ResourceRef) (model.RoleMutation, error) {
	var res model.RoleMutation
	var inserted bool
	err := r.db.QueryRowContext(ctx,
		`WITH target AS (
		     SELECT id FROM users WHERE id = $1
		 ), ins AS (
		     INSERT INTO roles (user_id, name, resource_type, resource_id)
		     SELECT id, $2, $3, $4 FROM target
		     ON CONFLICT (user_id, name, resource_type, resource_id) DO NOTHING
		     RETURNING id
		 )
		 SELECT EXISTS (SELECT 1 FROM target), EXISTS (SELECT 1 FROM ins)`,
		userID, string(capability), string(ref.Type), ref.ID,
	).Scan(&res.UserFound, &inserted)
	if err != nil {
		return model.RoleMutation{}, fmt.Errorf("failed to grant role %s on %s: %w", capability, ref, err)
	}
	if inserted {
		res.Affected = 1
	}
	return res, nil
}

// Revoke は権限を剥奪する。
// ユーザーの存在確認とDELETEを1文で行う。
func (r *PostgresRoleRepo) Revoke(ctx context.Context, userID int64, capability model.Capability, ref model.ResourceRef) (model.RoleMutation, error) {
	var res model.RoleMutation
	err := r.db.QueryRowContext(ctx,
		`WITH target AS (
		     SELECT id FROM users WHERE id = $1
		 ), del AS (
		     DELETE FROM roles
		     WHERE user_id IN (SELECT id FROM target)
		       AND name = $2 AND resource_type = $3 AND resource_id = $4
		     RETURNING id
		 )
		 SELECT EXISTS (SELECT 1 FROM target), (SELECT count(*) FROM del)`,
		userID, string(capability), string(ref.Type), ref.ID,
	).Scan(&res.UserFound, &res.Affected)
	if err != nil {
		return model.RoleMutation{}, fmt.Errorf("failed to revoke role %s on %s: %w", capability, ref, err)
	}
	return res, nil
}

// Exists はユーザーがリソースに対して権限を持つかを返す。
func (r *PostgresRoleRepo) Exists(ctx context.Context, userID int64, capability model.Capability, ref model.ResourceRef) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM roles
		     WHERE user_id = $1 AND name = $2 AND resource_type = $3 AND resource_id = $4
		 )`,
		userID, string(capability), string(ref.Type), ref.ID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check role: %w", err)
	}
	return exists, nil
}

// ListByResource はリソースに対する権限付与を付与日時順に返す。
func (r *PostgresRoleRepo) ListByResource(ctx context.Context, capability model.Capability, ref model.ResourceRef) ([]model.RoleGrant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, created_at
		 FROM roles
		 WHERE name = $1 AND resource_type = $2 AND resource_id = $3
		 ORDER BY created_at ASC, id ASC`,
		string(capability), string(ref.Type), ref.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var grants []model.RoleGrant
	for rows.Next() {
		g := model.RoleGrant{Capability: capability, Resource: ref}
		if err := rows.Scan(&g.ID, &g.UserID, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate roles: %w", err)
	}
	return grants, nil
}

// compile-time interface check
var _ RoleRepository = (*PostgresRoleRepo)(nil)
