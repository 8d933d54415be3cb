package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/blackout"
)

type BlackoutService interface {
	Create(ctx context.Context, actor appointment.Actor, in blackout.CreateInput) (*blackout.Result, error)
	Update(ctx context.Context, actor appointment.Actor, id uuid.UUID, in blackout.UpdateInput) (*blackout.Result, error)
	Deactivate(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.BlackoutPeriod, error)
}

func createBlackoutHandler(svc BlackoutService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBlackoutRequest
		if err := decodeJSON(r, &req); err != nil {
			handleDecodeError(w, r, log, err)
			return
		}
		if req.Start.IsZero() || req.End.IsZero() {
			writeError(w, http.StatusBadRequest, "validation_failed", "start and end are required")
			return
		}

		res, err := svc.Create(r.Context(), actorFrom(r.Context()), blackout.CreateInput{
			DoctorID:        uuid.MustParse(req.DoctorID),
			Start:           req.Start,
			End:             req.End,
			Reason:          req.Reason,
			IgnoreConflicts: req.IgnoreConflicts,
		})
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, BlackoutResponse{Blackout: res.Blackout, Advisory: res.Advisory})
	}
}

func updateBlackoutHandler(svc BlackoutService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var req UpdateBlackoutRequest
		if err := decodeJSON(r, &req); err != nil {
			handleDecodeError(w, r, log, err)
			return
		}

		res, err := svc.Update(r.Context(), actorFrom(r.Context()), id, blackout.UpdateInput{
			Start:           req.Start,
			End:             req.End,
			Reason:          req.Reason,
			IgnoreConflicts: req.IgnoreConflicts,
		})
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, BlackoutResponse{Blackout: res.Blackout, Advisory: res.Advisory})
	}
}

func deactivateBlackoutHandler(svc BlackoutService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		b, err := svc.Deactivate(r.Context(), actorFrom(r.Context()), id)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, BlackoutResponse{Blackout: *b})
	}
}
