package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/storyloom/coordinator/common/db"
	"github.com/storyloom/coordinator/common/models"
)

// PostgresStoryStore implements StoryStore on top of Postgres
type PostgresStoryStore struct {
	db *db.DB
}

// NewPostgresStoryStore creates a new Postgres-backed story store
func NewPostgresStoryStore(database *db.DB) *PostgresStoryStore {
	return &PostgresStoryStore{db: database}
}

// GetStory retrieves a story and its parts in position order
func (r *PostgresStoryStore) GetStory(ctx context.Context, storyID uuid.UUID) (*models.Story, error) {
	query := `
		SELECT story_id, session_id, mode, status, created_at
		FROM story
		WHERE story_id = $1
	`

	story := &models.Story{}
	err := r.db.QueryRow(ctx, query, storyID).Scan(
		&story.StoryID,
		&story.SessionID,
		&story.Mode,
		&story.Status,
		&story.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get story: %w", err)
	}

	partsQuery := `
		SELECT part_id, story_id, author_type, author_id, position, text, flagged, metadata, created_at
		FROM story_part
		WHERE story_id = $1
		ORDER BY position ASC
	`

	rows, err := r.db.Query(ctx, partsQuery, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query story parts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var part models.Part
		if err := rows.Scan(
			&part.PartID,
			&part.StoryID,
			&part.AuthorType,
			&part.AuthorID,
			&part.Position,
			&part.Text,
			&part.Flagged,
			&part.Metadata,
			&part.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan story part: %w", err)
		}
		story.Parts = append(story.Parts, part)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read story parts: %w", err)
	}

	return story, nil
}

// AppendPart appends a part at the next position for the story
func (r *PostgresStoryStore) AppendPart(ctx context.Context, storyID uuid.UUID, part *models.Part) (*models.Part, error) {
	query := `
		INSERT INTO story_part (part_id, story_id, author_type, author_id, position, text, flagged, metadata, created_at)
		VALUES (
			$1, $2, $3, $4,
			(SELECT COALESCE(MAX(position), -1) + 1 FROM story_part WHERE story_id = $2),
			$5, $6, $7, $8
		)
		RETURNING position
	`

	part.PartID = uuid.New()
	part.StoryID = storyID
	part.CreatedAt = time.Now().UTC()

	err := r.db.QueryRow(
		ctx,
		query,
		part.PartID,
		storyID,
		part.AuthorType,
		part.AuthorID,
		part.Text,
		part.Flagged,
		part.Metadata,
		part.CreatedAt,
	).Scan(&part.Position)
	if err != nil {
		return nil, fmt.Errorf("failed to append part: %w", err)
	}

	return part, nil
}

// UpdateStatus updates a story's status
func (r *PostgresStoryStore) UpdateStatus(ctx context.Context, storyID uuid.UUID, status models.StoryStatus) error {
	query := `
		UPDATE story
		SET status = $2
		WHERE story_id = $1
	`

	tag, err := r.db.Exec(ctx, query, storyID, status)
	if err != nil {
		return fmt.Errorf("failed to update story status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("story not found: %s", storyID)
	}

	return nil
}

// CreateBranchNode inserts a new branch node
func (r *PostgresStoryStore) CreateBranchNode(ctx context.Context, node *models.BranchNode) error {
	query := `
		INSERT INTO branch_node (node_id, story_id, parent_id, depth, choices, vote_counts, status, selected_idx, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		node.NodeID,
		node.StoryID,
		node.ParentID,
		node.Depth,
		node.Choices,
		node.VoteCounts,
		node.Status,
		node.SelectedIdx,
		node.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create branch node: %w", err)
	}

	return nil
}

// UpdateBranchNode persists a node's tallies, status and selection
func (r *PostgresStoryStore) UpdateBranchNode(ctx context.Context, node *models.BranchNode) error {
	query := `
		UPDATE branch_node
		SET vote_counts = $2, status = $3, selected_idx = $4
		WHERE node_id = $1
	`

	tag, err := r.db.Exec(ctx, query, node.NodeID, node.VoteCounts, node.Status, node.SelectedIdx)
	if err != nil {
		return fmt.Errorf("failed to update branch node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("branch node not found: %s", node.NodeID)
	}

	return nil
}

// GetBranchNodes returns all branch nodes for a story, oldest first
func (r *PostgresStoryStore) GetBranchNodes(ctx context.Context, storyID uuid.UUID) ([]*models.BranchNode, error) {
	query := `
		SELECT node_id, story_id, parent_id, depth, choices, vote_counts, status, selected_idx, created_at
		FROM branch_node
		WHERE story_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query branch nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.BranchNode
	for rows.Next() {
		node := &models.BranchNode{}
		if err := rows.Scan(
			&node.NodeID,
			&node.StoryID,
			&node.ParentID,
			&node.Depth,
			&node.Choices,
			&node.VoteCounts,
			&node.Status,
			&node.SelectedIdx,
			&node.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan branch node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read branch nodes: %w", err)
	}

	return nodes, nil
}
