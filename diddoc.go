package didtdw

import "encoding/json"

type DocVerificationMethod struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Controller         string `json:"controller"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

type DocService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// Doc is a DID document with the fields this method cares about. Logs may
// carry documents with additional members; those survive the raw state bytes
// untouched, this struct is a typed view for callers that want one.
type Doc struct {
	Context            []string                `json:"@context,omitempty"`
	ID                 string                  `json:"id"`
	AlsoKnownAs        []string                `json:"alsoKnownAs,omitempty"`
	Controller         []string                `json:"controller,omitempty"`
	VerificationMethod []DocVerificationMethod `json:"verificationMethod,omitempty"`
	Authentication     []string                `json:"authentication,omitempty"`
	AssertionMethod    []string                `json:"assertionMethod,omitempty"`
	Service            []DocService            `json:"service,omitempty"`
}

// Doc decodes the materialized document into the typed view.
func (st *ResolvedState) Doc() (*Doc, error) {
	var doc Doc
	if err := json.Unmarshal(st.Document, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
