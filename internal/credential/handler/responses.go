package handler

import (
	"credanchor/internal/credential/issuance"
	"credanchor/internal/credential/models"
	"credanchor/internal/credential/service"
	"credanchor/internal/credential/workers/reconcile"
	"credanchor/internal/proof"
)

// IssueResponse reports the credential as persisted when issuance returned.
// Success is false only for credentials every network rejected.
type IssueResponse struct {
	Success    bool               `json:"success"`
	Credential *models.Credential `json:"credential"`
	Status     models.Status      `json:"status"`
	Networks   []string           `json:"confirmed_networks"`
}

type ListResponse struct {
	Credentials []*service.CredentialView `json:"credentials"`
	Total       int                       `json:"total"`
}

type ChainInfoResponse struct {
	Networks []service.NetworkInfo `json:"networks"`
}

type GasEstimateResponse struct {
	Estimates []service.GasEstimate `json:"estimates"`
}

type StatusResponse struct {
	Service        string                  `json:"service"`
	SupportedTypes []models.CredentialType `json:"supported_credential_types"`
	Networks       []string                `json:"networks"`
	ProofTypes     []proof.Type            `json:"proof_types"`
}

func toIssueResponse(res *issuance.Result) *IssueResponse {
	networks := []string{}
	for _, a := range res.Credential.Anchors {
		if a.State == models.AnchorConfirmed {
			networks = append(networks, a.Network)
		}
	}
	return &IssueResponse{
		Success:    res.Status != models.StatusFailed,
		Credential: res.Credential,
		Status:     res.Status,
		Networks:   networks,
	}
}

type ReconcileResponse struct {
	reconcile.Result
	Error string `json:"error,omitempty"`
}
