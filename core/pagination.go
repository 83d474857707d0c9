package core

import "math"

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 35
)

type (
	// PageQuery is the inbound pagination contract: page >= 1, 1 <= limit <= 35.
	PageQuery struct {
		Page  int `json:"page" query:"page"`
		Limit int `json:"limit" query:"limit"`
	}

	Pagination struct {
		Page       int `json:"page"`
		Limit      int `json:"limit"`
		Total      int `json:"total"`
		TotalPages int `json:"totalPages"`
	}

	// Paginated is the standard shape of all paginated list responses.
	Paginated struct {
		Data       interface{} `json:"data"`
		Pagination Pagination  `json:"pagination"`
	}
)

// Clean clamps out-of-range values instead of erroring out.
func (pq *PageQuery) Clean() {
	if pq.Page < 1 {
		pq.Page = 1
	}
	if pq.Limit < 1 {
		pq.Limit = DefaultPageLimit
	}
	if pq.Limit > MaxPageLimit {
		pq.Limit = MaxPageLimit
	}
}

func (pq PageQuery) Offset() int {
	return (pq.Page - 1) * pq.Limit
}

func NewPaginated(data interface{}, pq PageQuery, total int) Paginated {
	return Paginated{
		Data: data,
		Pagination: Pagination{
			Page:       pq.Page,
			Limit:      pq.Limit,
			Total:      total,
			TotalPages: int(math.Ceil(float64(total) / float64(pq.Limit))),
		},
	}
}
