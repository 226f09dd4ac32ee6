// RecordingsData is a paginated response payload for the recordings list.
package dto

import "feeder/internal/model"

type RecordingsData struct {
	Recordings  []model.Recording `json:"recordings"`
	Directory   string            `json:"directory"`
	Size        int64             `json:"size"`
	MaxSize     int64             `json:"maxSize"`
	Length      int               `json:"length"`
	TotalPages  int               `json:"totalPages"`
	CurrentPage int               `json:"currentPage"`
	Limit       int               `json:"pageSize"`
}
