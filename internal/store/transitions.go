package store

import "turnero/turno-service/internal/models"

// target state -> states it may be entered from
var transitionMap = map[string][]string{
	models.StatusCalling:        {models.StatusPending},
	models.StatusInConsultation: {models.StatusCalling},
	models.StatusClosed:         {models.StatusCalling, models.StatusInConsultation},
	models.StatusAbsent:         {models.StatusCalling},
}

// timestamp column stamped on entry to a state; stamped at most once
// because no state is reachable twice
var stampColumns = map[string]string{
	models.StatusCalling:        "called_at",
	models.StatusInConsultation: "attended_at",
	models.StatusClosed:         "closed_at",
}

func ValidTransition(from, target string) bool {
	for _, status := range transitionMap[target] {
		if status == from {
			return true
		}
	}
	return false
}

func AllowedFrom(target string) []string {
	return transitionMap[target]
}

func StampColumn(target string) (string, bool) {
	column, ok := stampColumns[target]
	return column, ok
}
