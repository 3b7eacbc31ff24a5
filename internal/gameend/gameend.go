// Package gameend implements the Game-End Processor (C10): exclusive
// room-ownership result computation, the broadcast choreography
// (game_ended -> winner_celebration -> detailed_results), asynchronous
// persistence, and delayed cleanup. Grounded on the teacher's Room.Stop/
// kickPlayer callback-driven teardown pattern, generalized from an
// immediate single-event teardown to the timed multi-phase choreography of
// spec §4.10.
package gameend

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/headsoccer/matchserver/internal/anticheat"
	"github.com/headsoccer/matchserver/internal/config"
	"github.com/headsoccer/matchserver/internal/domain"
	"github.com/headsoccer/matchserver/internal/elo"
	"github.com/headsoccer/matchserver/internal/events"
	"github.com/headsoccer/matchserver/internal/room"
)

// Store is the persistence contract C10 invokes asynchronously (spec
// §4.10 step 5); internal/store provides the concrete pgx-backed
// implementation.
type Store interface {
	SaveMatch(ctx context.Context, result domain.Result) error
	UpdatePlayerStats(ctx context.Context, result domain.Result) error
}

// CleanupFunc unregisters a finished room from whatever registry owns the
// playerID/roomID -> *room.Room mapping (main's wiring layer).
type CleanupFunc func(roomID string)

// RatingUpdateFunc applies the post-match Elo adjustment to both players'
// live Player records (main's wiring layer owns the player registry).
type RatingUpdateFunc func(leftID string, leftRating int, rightID string, rightRating int)

// Processor runs the post-game choreography for each room exactly once.
type Processor struct {
	bus          events.Broadcaster
	store        Store
	cfg          config.GameEndConfig
	cleanup      CleanupFunc
	updateRating RatingUpdateFunc
	log          zerolog.Logger

	mu        sync.Mutex
	processed map[string]bool
	endVotes  map[string]map[string]bool // roomID -> playerID -> voted

	persistFailures int64
}

func New(bus events.Broadcaster, store Store, cfg config.GameEndConfig, cleanup CleanupFunc, updateRating RatingUpdateFunc, log zerolog.Logger) *Processor {
	return &Processor{
		bus:          bus,
		store:        store,
		cfg:          cfg,
		cleanup:      cleanup,
		updateRating: updateRating,
		log:          log.With().Str("component", "game_end_processor").Logger(),
		processed:    make(map[string]bool),
		endVotes:     make(map[string]map[string]bool),
	}
}

// RequestEnd records a mutual-agreement end vote from playerID. When both
// of r's players have voted, the room ends with ReasonMutualAgreement
// (spec §4.9/§4.10).
func (p *Processor) RequestEnd(r *room.Room, playerID string) {
	p.mu.Lock()
	votes, ok := p.endVotes[r.ID]
	if !ok {
		votes = make(map[string]bool)
		p.endVotes[r.ID] = votes
	}
	votes[playerID] = true
	bothVoted := votes[r.LeftPlayerID] && votes[r.RightPlayerID]
	p.mu.Unlock()

	if bothVoted {
		r.End(domain.ReasonMutualAgreement)
	}
}

// HandleTerminal is registered as the Room's TerminalFunc (spec §4.10:
// "takes exclusive ownership of a Room, guarded so duplicate calls are
// no-ops").
func (p *Processor) HandleTerminal(r *room.Room, reason domain.EndReason) {
	p.mu.Lock()
	if p.processed[r.ID] {
		p.mu.Unlock()
		return
	}
	p.processed[r.ID] = true
	delete(p.endVotes, r.ID)
	p.mu.Unlock()

	result := p.computeResult(r, reason)
	result.AntiCheat = anticheat.Validate(anticheat.Submission{
		PlayerID:       r.LeftPlayerID,
		DeclaredWinner: result.Winner,
		LeftScore:      result.Players[0].FinalScore,
		RightScore:     result.Players[1].FinalScore,
		Duration:       result.Duration,
		SubmittedAt:    result.End,
	}, nil)
	if !result.AntiCheat.Accepted {
		p.log.Warn().Str("room_id", r.ID).Strs("flags", result.AntiCheat.Flags).
			Float64("suspicion", result.AntiCheat.SuspicionScore).Msg("server-computed result flagged by anti-cheat cross-check")
	}

	if p.updateRating != nil {
		p.updateRating(r.LeftPlayerID, result.Players[0].RatingAfter, r.RightPlayerID, result.Players[1].RatingAfter)
	}

	p.bus.SendToRoom(r.ID, events.TypeGameEnded, map[string]any{"result": result}, "")

	go p.runChoreography(r.ID, result)
}

func (p *Processor) runChoreography(roomID string, result domain.Result) {
	time.Sleep(p.cfg.CelebrationDelay)
	p.bus.SendToRoom(roomID, events.TypeWinnerCelebration, map[string]any{
		"winner":   result.Winner,
		"duration": p.cfg.CelebrationDuration.Milliseconds(),
	}, "")

	time.Sleep(p.cfg.CelebrationDuration)
	p.bus.SendToRoom(roomID, events.TypeDetailedResults, map[string]any{"result": result}, "")

	go p.persist(result)

	time.Sleep(p.cfg.PostGameDelay)
	p.runCleanup(roomID)
}

// persist invokes the store asynchronously; failures increment a counter
// and never cancel the broadcast choreography (spec §4.10 failure
// semantics).
func (p *Processor) persist(result domain.Result) {
	if !result.AntiCheat.Accepted {
		p.log.Warn().Str("room_id", result.RoomID).Msg("skipping persistence of anti-cheat flagged result")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.store.SaveMatch(ctx, result); err != nil {
		p.mu.Lock()
		p.persistFailures++
		p.mu.Unlock()
		p.log.Error().Err(err).Str("room_id", result.RoomID).Msg("save_match failed")
	}
	if err := p.store.UpdatePlayerStats(ctx, result); err != nil {
		p.mu.Lock()
		p.persistFailures++
		p.mu.Unlock()
		p.log.Error().Err(err).Str("room_id", result.RoomID).Msg("update_player_stats failed")
	}
}

func (p *Processor) runCleanup(roomID string) {
	p.bus.SendToRoom(roomID, events.TypeGameCleanupStarting, nil, "")
	time.Sleep(p.cfg.CleanupDelay)

	p.bus.SendToAll(events.TypeGameCleanup, map[string]any{"roomId": roomID, "priority": "low"})

	if p.cleanup != nil {
		p.cleanup(roomID)
	}
	p.log.Info().Str("room_id", roomID).Msg("room cleaned up")
}

// PersistFailures returns the running count of persistence failures, for
// the /stats endpoint.
func (p *Processor) PersistFailures() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persistFailures
}

// computeResult derives the final Result from a room's terminal state
// (spec §4.10 step 1).
func (p *Processor) computeResult(r *room.Room, reason domain.EndReason) domain.Result {
	score := r.Score()
	start := time.Now().Add(-r.Elapsed())
	end := time.Now()

	bothGone := r.BothDisconnected()

	var winner domain.Winner
	switch reason {
	case domain.ReasonForfeit, domain.ReasonDisconnect:
		switch {
		case bothGone:
			// Neither side was connected when the pause grace expired:
			// double_forfeit, no winner (spec §8 scenario 4).
			winner = domain.WinnerNone
		default:
			// The remaining connected player wins (spec §4.10 step 1).
			switch r.AdverseRole() {
			case domain.RoleLeft:
				winner = domain.WinnerRight
			case domain.RoleRight:
				winner = domain.WinnerLeft
			default:
				if score.Left == score.Right {
					winner = domain.WinnerDraw
				} else {
					winner = scoreWinner(score)
				}
			}
		}
	case domain.ReasonTimeLimit:
		if score.Left == score.Right {
			winner = domain.WinnerDraw
		} else {
			winner = scoreWinner(score)
		}
	default: // score_limit, forced, mutual_agreement: higher score wins, tie is a draw
		if score.Left == score.Right {
			winner = domain.WinnerDraw
		} else {
			winner = scoreWinner(score)
		}
	}

	leftOutcome, rightOutcome := domain.ResultDraw, domain.ResultDraw
	switch {
	case winner == domain.WinnerNone:
		leftOutcome, rightOutcome = domain.ResultDoubleForfeit, domain.ResultDoubleForfeit
	case winner == domain.WinnerLeft:
		leftOutcome, rightOutcome = domain.ResultWin, domain.ResultLoss
	case winner == domain.WinnerRight:
		leftOutcome, rightOutcome = domain.ResultLoss, domain.ResultWin
	}

	newLeftRating, newRightRating := elo.Adjust(r.LeftRating, r.RightRating, winner)

	connectedLeft := !bothGone && r.AdverseRole() != domain.RoleLeft
	connectedRight := !bothGone && r.AdverseRole() != domain.RoleRight

	return domain.Result{
		RoomID:   r.ID,
		Mode:     r.Mode,
		Start:    start,
		End:      end,
		Duration: r.Elapsed(),
		Reason:   reason,
		Winner:   winner,
		Players: [2]domain.PlayerResult{
			{PlayerID: r.LeftPlayerID, FinalScore: score.Left, Outcome: leftOutcome, ConnectedAtEnd: connectedLeft, RatingBefore: r.LeftRating, RatingAfter: newLeftRating},
			{PlayerID: r.RightPlayerID, FinalScore: score.Right, Outcome: rightOutcome, ConnectedAtEnd: connectedRight, RatingBefore: r.RightRating, RatingAfter: newRightRating},
		},
		TotalGoals:    score.Left + score.Right,
		GoalDiff:      abs(score.Left - score.Right),
		AverageElo:    r.AverageElo,
		EloDifference: r.EloDifference,
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func scoreWinner(score domain.Score) domain.Winner {
	if score.Left > score.Right {
		return domain.WinnerLeft
	}
	return domain.WinnerRight
}
