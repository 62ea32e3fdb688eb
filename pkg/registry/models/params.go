package models

// PushResult is the body returned after a successful package push.
type PushResult struct {
	Id                string `json:"id"`
	Version           string `json:"version"`
	NormalizedVersion string `json:"normalizedVersion"`
}

// DeletePackageParams binds the delete route path.
type DeletePackageParams struct {
	Id      string `path:"id" validate:"required"`
	Version string `path:"version" validate:"required"`
}

// RelistPackageParams binds the unlist/relist placeholder route path.
type RelistPackageParams struct {
	Id      string `path:"id"`
	Version string `path:"version"`
}
