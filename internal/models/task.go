package models

import "fmt"

// EndpointType selects the storage backend a snapshot is published to
type EndpointType string

const (
	EndpointFilesystem EndpointType = "filesystem"
	EndpointS3         EndpointType = "s3"
)

// ParseEndpointType validates an endpoint type name
func ParseEndpointType(s string) (EndpointType, error) {
	switch EndpointType(s) {
	case EndpointFilesystem, EndpointS3:
		return EndpointType(s), nil
	}
	return "", fmt.Errorf("unknown endpoint type %q", s)
}

// Endpoint is the externally visible location a snapshot is published at.
// Together with a distribution it identifies one live mapping.
type Endpoint struct {
	Type   EndpointType
	Name   string
	Prefix string
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%s:%s", e.Type, e.Name, e.Prefix)
}

// ReleaseTask describes one repository to create, populate, snapshot and
// publish. Tasks are validated when the task file is loaded and never
// modified afterwards.
type ReleaseTask struct {
	Repository     string
	Distribution   string
	Component      string
	Architectures  []string
	ContentSources []string
	PackageGlob    string
	Endpoint       Endpoint
	SigningKey     string
	NotifyBaseURL  string
	NotifyKeys     []string
}

// SnapshotName returns the snapshot created from the task's repository
func (t ReleaseTask) SnapshotName() string {
	return t.Repository + "_snapshot"
}
