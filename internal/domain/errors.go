package domain

import "errors"

var (
	// ErrInvalidRequest indicates a malformed source URL or slug.
	ErrInvalidRequest = errors.New("invalid deployment request")
	// ErrDispatchFailed indicates the launch backend could not start a build worker.
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrFetchFailed indicates the source tree could not be obtained.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrBuildToolFailed indicates the build command exited unsuccessfully.
	ErrBuildToolFailed = errors.New("build tool failed")
	// ErrBuildOutputMissing indicates the expected output directory does not exist.
	ErrBuildOutputMissing = errors.New("build output missing")
	// ErrUploadPartialFailure indicates some artifact files could not be uploaded.
	ErrUploadPartialFailure = errors.New("upload partially failed")
	// ErrInvalidHost indicates a request hostname without a usable routing key.
	ErrInvalidHost = errors.New("invalid host")
	// ErrUpstreamUnavailable indicates the artifact origin could not serve the request.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
