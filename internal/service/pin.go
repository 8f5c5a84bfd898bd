package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/swappo/pin-server-go/internal/audit"
	"github.com/swappo/pin-server-go/internal/database"
	apperrors "github.com/swappo/pin-server-go/internal/errors"
	"github.com/swappo/pin-server-go/internal/model"
	"github.com/swappo/pin-server-go/internal/repository"
	"github.com/swappo/pin-server-go/internal/util"
)

// PinService implements the trade-completion PIN protocol: code generation
// by the owner, verification by the requester, and the role-scoped status
// projection both sides poll.
type PinService struct {
	db        *database.DB
	tradeRepo repository.TradeRepository
	pinRepo   repository.PinRecordRepository
	ttl       time.Duration
	now       func() time.Time
}

func NewPinService(
	db *database.DB,
	tradeRepo repository.TradeRepository,
	pinRepo repository.PinRecordRepository,
	ttl time.Duration,
) *PinService {
	return &PinService{
		db:        db,
		tradeRepo: tradeRepo,
		pinRepo:   pinRepo,
		ttl:       ttl,
		now:       time.Now,
	}
}

// VerifyOutcome is returned on a successful verification.
type VerifyOutcome struct {
	VerifiedAt time.Time
}

// Generate issues a fresh PIN for the trade. Only the trade's owner may
// call it, and only while the trade is ACCEPTED. Calling again before the
// previous code expires is allowed and deliberately invalidates it, so an
// owner can revoke a leaked code at any time.
func (s *PinService) Generate(ctx context.Context, tradeID, callerID string) (*model.PinRecord, error) {
	trade, err := s.tradeRepo.FindByID(ctx, tradeID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if trade == nil {
		return nil, apperrors.NotFound("Trade")
	}

	role, ok := trade.RoleOf(callerID)
	if !ok || role != model.RoleOwner {
		log.Warn().
			Str("tradeId", tradeID).
			Str("callerId", callerID).
			Msg("generate rejected: caller is not the trade owner")
		return nil, apperrors.NotAuthorized("generate a PIN for this trade")
	}

	switch trade.Status {
	case model.TradeStatusAccepted:
		// proceed
	case model.TradeStatusCompleted:
		return nil, apperrors.AlreadyCompleted()
	default:
		return nil, apperrors.InvalidState("PIN can only be generated for an accepted trade")
	}

	code, err := GeneratePinCode()
	if err != nil {
		return nil, apperrors.Internal("Failed to generate PIN").WithCause(err)
	}

	generatedAt := s.now()
	record, err := s.pinRepo.CreateOrReplace(ctx, model.CreatePinRecordParams{
		TradeID:     tradeID,
		Code:        code,
		GeneratedAt: generatedAt,
		ExpiresAt:   generatedAt.Add(s.ttl),
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if record == nil {
		// A verification committed between the trade-status read and the
		// upsert. The record is verified and the trade is COMPLETED, so
		// the answer is the same as if we had read the trade a moment
		// later.
		return nil, apperrors.AlreadyCompleted()
	}

	eventType := audit.EventPinGenerate
	if record.Generation > 1 {
		eventType = audit.EventPinRegenerate
	}
	audit.Log(ctx, audit.Event{
		Type:    eventType,
		PartyID: callerID,
		TradeID: tradeID,
		Details: map[string]interface{}{"generation": record.Generation},
	})

	log.Info().
		Str("tradeId", tradeID).
		Str("code", util.MaskCode(record.Code)).
		Int("generation", record.Generation).
		Time("expiresAt", record.ExpiresAt).
		Msg("pin generated")

	return record, nil
}

// Verify checks a submitted code against the trade's live PIN record and,
// on a match, marks the record verified and completes the trade in one
// transaction. The caller must be the trade's requester and the code must
// already be normalized to 6 digits.
//
// A lost race with a concurrent regenerate or verify surfaces as
// INVALID_CODE: the code the requester holds is stale either way.
func (s *PinService) Verify(ctx context.Context, tradeID, callerID, code string) (*VerifyOutcome, error) {
	trade, err := s.tradeRepo.FindByID(ctx, tradeID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if trade == nil {
		return nil, apperrors.NotFound("Trade")
	}

	role, ok := trade.RoleOf(callerID)
	if !ok || role != model.RoleRequester {
		log.Warn().
			Str("tradeId", tradeID).
			Str("callerId", callerID).
			Msg("verify rejected: caller is not the trade requester")
		return nil, apperrors.NotAuthorized("verify the PIN for this trade")
	}

	record, err := s.pinRepo.FindByTradeID(ctx, tradeID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if record == nil {
		return nil, apperrors.NotFound("PIN")
	}

	now := s.now()

	// Expiry is checked before the code so an expired-but-correct code
	// reports EXPIRED, not INVALID_CODE.
	if record.IsExpired(now) {
		return nil, apperrors.Expired()
	}
	if record.Verified {
		return nil, apperrors.AlreadyCompleted()
	}
	if !util.ConstantTimeEqual(code, record.Code) {
		s.auditVerifyFailure(ctx, tradeID, callerID, "code_mismatch")
		return nil, apperrors.InvalidCode()
	}

	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		marked, err := s.pinRepo.WithTx(tx).MarkVerified(ctx, tradeID, record.Generation, now)
		if err != nil {
			return apperrors.Database(err)
		}
		if !marked {
			return apperrors.Conflict("pin record changed during verification")
		}

		completed, err := s.tradeRepo.WithTx(tx).Complete(ctx, tradeID)
		if err != nil {
			return apperrors.Database(err)
		}
		if !completed {
			return apperrors.InvalidState("trade is no longer accepted")
		}
		return nil
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeConflict) {
			s.auditVerifyFailure(ctx, tradeID, callerID, "stale_generation")
			return nil, apperrors.InvalidCode()
		}
		return nil, err
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventPinVerifySuccess,
		PartyID: callerID,
		TradeID: tradeID,
		Details: map[string]interface{}{"generation": record.Generation},
	})

	log.Info().
		Str("tradeId", tradeID).
		Int("generation", record.Generation).
		Msg("pin verified, trade completed")

	return &VerifyOutcome{VerifiedAt: now}, nil
}

// Status projects the trade's PIN state for one of its parties. The code
// itself is included for the owner only; the requester never receives it,
// regardless of what the client asks for.
func (s *PinService) Status(ctx context.Context, tradeID, callerID string) (*model.PinStatusView, error) {
	trade, err := s.tradeRepo.FindByID(ctx, tradeID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if trade == nil {
		return nil, apperrors.NotFound("Trade")
	}

	role, ok := trade.RoleOf(callerID)
	if !ok {
		return nil, apperrors.NotAuthorized("view the PIN status for this trade")
	}

	record, err := s.pinRepo.FindByTradeID(ctx, tradeID)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	view := &model.PinStatusView{
		Role:        role,
		TradeStatus: trade.Status,
	}
	if record == nil {
		return view, nil
	}

	view.Exists = true
	view.IsVerified = record.Verified
	view.IsExpired = record.IsExpired(s.now())
	view.Generation = record.Generation
	view.GeneratedAt = &record.GeneratedAt
	view.ExpiresAt = &record.ExpiresAt
	view.VerifiedAt = record.VerifiedAt

	if role == model.RoleOwner {
		view.Code = record.Code
	}

	return view, nil
}

func (s *PinService) auditVerifyFailure(ctx context.Context, tradeID, callerID, reason string) {
	audit.Log(ctx, audit.Event{
		Type:    audit.EventPinVerifyFailure,
		PartyID: callerID,
		TradeID: tradeID,
		Details: map[string]interface{}{"reason": reason},
	})
}
