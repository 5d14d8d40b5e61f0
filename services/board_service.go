package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/cppla/bbspoints/models"
	"github.com/cppla/bbspoints/stores"
)

// History page sizes.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// BoardRow is one leaderboard line as served over HTTP.
type BoardRow struct {
	Rank   int64   `json:"rank"`
	Name   string  `json:"name"`
	Points float64 `json:"points"`
}

// BoardView is the caller's standing plus the full board. Rank and Points
// are nil when no user was given or the user has no points yet.
type BoardView struct {
	Rank   *int64     `json:"rank"`
	Points *float64   `json:"points"`
	Board  []BoardRow `json:"board"`
}

// BoardService serves the leaderboard and each user's points history.
type BoardService struct {
	board  *stores.LeaderboardStore
	ledger LedgerReader
}

// NewBoardService creates a BoardService.
func NewBoardService(board *stores.LeaderboardStore, ledger LedgerReader) *BoardService {
	return &BoardService{board: board, ledger: ledger}
}

// GetBoard returns the board; userID may be empty.
func (s *BoardService) GetBoard(ctx context.Context, userID string) (BoardView, error) {
	var view BoardView
	if userID = strings.TrimSpace(userID); userID != "" {
		rank, ok, err := s.board.Rank(ctx, userID)
		if err != nil {
			return BoardView{}, err
		}
		if ok {
			view.Rank = &rank
		}
		score, ok, err := s.board.Score(ctx, userID)
		if err != nil {
			return BoardView{}, err
		}
		if ok {
			view.Points = &score
		}
	}

	entries, err := s.board.Board(ctx)
	if err != nil {
		return BoardView{}, err
	}
	view.Board = make([]BoardRow, 0, len(entries))
	for _, e := range entries {
		view.Board = append(view.Board, BoardRow{Rank: e.Rank, Name: e.UserID, Points: e.Score})
	}
	return view, nil
}

// History returns the user's most recent ledger entries, newest first.
// limit is clamped to 1..MaxHistoryLimit; zero means DefaultHistoryLimit.
func (s *BoardService) History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	if userID = strings.TrimSpace(userID); userID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidArgument)
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	entries, err := s.ledger.Entries(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return entries, nil
}
