package dto

// StartRunRequest is the body of POST /api/reconcile.
type StartRunRequest struct {
	DryRun    bool     `json:"dry_run"`
	Flows     []string `json:"flows"`      // empty = every flow
	HolderIDs []int64  `json:"holder_ids"` // explicit holders
	Stages    []string `json:"stages"`     // used when holder_ids is empty
	Workers   int      `json:"workers"`
}
