package engine

import "github.com/siverbl/rsi-pi-bot/internal/model"

// ClassifyStatus places a reading relative to a rule's threshold with a
// hysteresis dead zone of width h on each side. A value inside the band is
// StatusUnknown, which keeps noise around the threshold from flipping the
// stored status back and forth.
func ClassifyStatus(value, threshold float64, cond model.Condition, h float64) model.Status {
	switch cond {
	case model.ConditionUnder:
		if value < threshold-h {
			return model.StatusBelow
		}
		if value > threshold+h {
			return model.StatusAbove
		}
		return model.StatusUnknown
	default: // OVER
		if value > threshold+h {
			return model.StatusAbove
		}
		if value < threshold-h {
			return model.StatusBelow
		}
		return model.StatusUnknown
	}
}

// UpdateZoneCounter advances the consecutive-trading-days-in-zone counter.
// It uses the raw threshold, not the hysteresis-adjusted one: the "day N"
// badge must reflect the rule as the user wrote it even while the status
// machine sits in the dead band. Returns the new counter and whether the
// value just entered the zone.
func UpdateZoneCounter(value, threshold float64, cond model.Condition, prevStatus model.Status, prevDays int, newDay bool) (int, bool) {
	inZone := value < threshold
	exitStatus := model.StatusAbove
	if cond == model.ConditionOver {
		inZone = value > threshold
		exitStatus = model.StatusBelow
	}

	if !inZone {
		return 0, false
	}
	if prevStatus == exitStatus || prevStatus == model.StatusUnknown || prevDays == 0 {
		return 1, true
	}
	if newDay {
		return prevDays + 1, false
	}
	return prevDays, false
}

// ShouldTrigger decides whether an alert fires, before the cooldown gate.
//
// LEVEL mode fires whenever the raw condition holds. CROSSING mode fires
// only on a transition into the zone; evaluated=false marks a rule that has
// never seen a reading, which bootstraps alerting when the rule is created
// with the condition already met. An evaluated rule whose status merely
// drifted into the hysteresis band does not re-arm the bootstrap clause.
func ShouldTrigger(value, threshold float64, cond model.Condition, prevStatus, curStatus model.Status, mode model.AlertMode, evaluated bool) bool {
	rawHolds := value < threshold
	if cond == model.ConditionOver {
		rawHolds = value > threshold
	}

	if mode == model.ModeLevel {
		return rawHolds
	}

	// CROSSING
	entered := model.StatusBelow
	if cond == model.ConditionOver {
		entered = model.StatusAbove
	}
	if !evaluated && rawHolds {
		return true
	}
	return (prevStatus != entered) && curStatus == entered
}
