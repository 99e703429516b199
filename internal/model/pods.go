package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Minimal subset of the kubelet pods listing. Only the fields the probers
// inspect are decoded, anything else in the document is ignored.

type PodList struct {
	Items []Pod `json:"items"`
}

type Pod struct {
	Metadata ObjectMeta `json:"metadata"`
	Spec     PodSpec    `json:"spec"`
	Status   PodStatus  `json:"status"`
}

type ObjectMeta struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

type PodSpec struct {
	Containers []Container `json:"containers"`
}

type Container struct {
	Name            string           `json:"name"`
	SecurityContext *SecurityContext `json:"securityContext,omitempty"`
}

type SecurityContext struct {
	Privileged *bool `json:"privileged,omitempty"`
}

type PodStatus struct {
	Phase string `json:"phase"`
}

// PhaseRunning is the pod lifecycle phase probing targets must be in.
const PhaseRunning = "Running"

// ParsePodList decodes a pods listing body. Proxies and captive portals can
// answer 200 with an HTML error page, so the body must look like a pods
// collection before it is decoded: the "items" marker is required.
func ParsePodList(body string) (PodList, error) {
	if !strings.Contains(body, "items") {
		return PodList{}, fmt.Errorf("pods listing: %w", ErrNoMatch)
	}
	var list PodList
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		return PodList{}, fmt.Errorf("pods listing: %w", err)
	}
	return list, nil
}

// Privileged returns whether the container declares a privileged security
// context.
func (c Container) Privileged() bool {
	return c.SecurityContext != nil &&
		c.SecurityContext.Privileged != nil &&
		*c.SecurityContext.Privileged
}
