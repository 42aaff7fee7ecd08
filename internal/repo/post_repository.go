package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postRepository struct {
	db *pgxpool.Pool
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *pgxpool.Pool) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, tenant_id, board_id, post_status_id, title, description, tags, approval_status, created_at, updated_at`

func scanPost(row pgx.Row) (Post, error) {
	var post Post
	err := row.Scan(
		&post.ID,
		&post.TenantID,
		&post.BoardID,
		&post.PostStatusID,
		&post.Title,
		&post.Description,
		&post.Tags,
		&post.ApprovalStatus,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	return post, err
}

func (r *postRepository) FindAllForBoards(ctx context.Context, tenantID int64, boardIDs []int64) ([]Post, error) {
	if len(boardIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + postColumns + `
		FROM posts
		WHERE tenant_id = $1 AND board_id = ANY($2)
		ORDER BY id ASC`

	rows, err := r.db.Query(ctx, query, tenantID, boardIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return posts, nil
}

func (r *postRepository) FindByID(ctx context.Context, tenantID, id int64) (Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE tenant_id = $1 AND id = $2`

	post, err := scanPost(r.db.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		return Post{}, fmt.Errorf("failed to get post: %w", mapError(err))
	}
	return post, nil
}

func (r *postRepository) Create(ctx context.Context, params CreatePostParams) (Post, error) {
	tags := params.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO posts (tenant_id, board_id, post_status_id, title, description, tags, approval_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + postColumns

	post, err := scanPost(r.db.QueryRow(ctx, query,
		params.TenantID,
		params.BoardID,
		params.PostStatusID,
		params.Title,
		params.Description,
		tags,
		params.ApprovalStatus,
	))
	if err != nil {
		return Post{}, fmt.Errorf("failed to create post: %w", mapError(err))
	}
	return post, nil
}

func (r *postRepository) Update(ctx context.Context, params UpdatePostParams) (Post, error) {
	tags := params.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		UPDATE posts
		SET title = $3, description = $4, post_status_id = $5, tags = $6, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING ` + postColumns

	post, err := scanPost(r.db.QueryRow(ctx, query,
		params.TenantID,
		params.ID,
		params.Title,
		params.Description,
		params.PostStatusID,
		tags,
	))
	if err != nil {
		return Post{}, fmt.Errorf("failed to update post: %w", mapError(err))
	}
	return post, nil
}

func (r *postRepository) Delete(ctx context.Context, tenantID, id int64) error {
	result, err := r.db.Exec(ctx, `DELETE FROM posts WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("post %d: %w", id, ErrNotFound)
	}

	return nil
}

func (r *postRepository) GetPostCounts(ctx context.Context, postID int64) (PostCounts, error) {
	var counts PostCounts
	err := r.db.QueryRow(ctx, `SELECT comment_count, like_count FROM posts WHERE id = $1`, postID).
		Scan(&counts.Comments, &counts.Likes)
	if err != nil {
		return PostCounts{}, fmt.Errorf("failed to get post counts: %w", mapError(err))
	}
	return counts, nil
}
