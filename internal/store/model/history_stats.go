package model

type HistoryStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}
