// Package azuredevops implements tracker.Client for Azure DevOps Boards.
package azuredevops

import (
	"time"
)

// API constants
const (
	DefaultTimeout    = 30 * time.Second
	MaxBatchSize      = 200
	APIVersion        = "7.0"
	CommentAPIVersion = "7.0-preview.3"
)

// WorkItem is an Azure DevOps work item.
type WorkItem struct {
	ID     int            `json:"id"`
	Rev    int            `json:"rev"`
	URL    string         `json:"url"`
	Fields WorkItemFields `json:"fields"`
}

// WorkItemFields holds the fields the tracker reads.
type WorkItemFields struct {
	Title        string    `json:"System.Title"`
	State        string    `json:"System.State"`
	WorkItemType string    `json:"System.WorkItemType"`
	AssignedTo   *Identity `json:"System.AssignedTo,omitempty"`
	CreatedDate  string    `json:"System.CreatedDate"`
	ChangedDate  string    `json:"System.ChangedDate"`
	Tags         string    `json:"System.Tags,omitempty"` // semicolon-separated
}

// Identity is an Azure DevOps user identity.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

// WIQLQueryRequest is the request body for WIQL queries.
type WIQLQueryRequest struct {
	Query string `json:"query"`
}

// WIQLQueryResponse is the response from a WIQL query.
type WIQLQueryResponse struct {
	QueryType string        `json:"queryType"`
	WorkItems []WorkItemRef `json:"workItems"`
}

// WorkItemRef is a reference to a work item in WIQL results.
type WorkItemRef struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// WorkItemBatchResponse is the response from a batch get.
type WorkItemBatchResponse struct {
	Count int        `json:"count"`
	Value []WorkItem `json:"value"`
}

// PatchOperation is one JSON Patch operation for create and update.
type PatchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}
