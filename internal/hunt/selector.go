package hunt

import (
	"github.com/nodehound/nodehound/internal/model"
)

// Target is the pod/container a secure-port run probes against. Built fresh
// per run, never persisted.
type Target struct {
	Namespace string
	Pod       string
	Container string
}

// selfTarget is used in self-test mode, when the scanner probes the very pod
// it runs in. Names match the deployment manifest.
var selfTarget = Target{
	Namespace: "default",
	Pod:       "nodehound",
	Container: "nodehound",
}

// SelectTarget picks a probing target from the pods listing. Policy is
// fixed: a Running pod in the default namespace wins, then a Running pod in
// kube-system, first declared container either way. Self-test mode bypasses
// the listing entirely.
func SelectTarget(list model.PodList, selfTest bool) (Target, bool) {
	if selfTest {
		return selfTarget, true
	}

	pod := firstRunning(list, "default")
	if pod == nil {
		pod = firstRunning(list, "kube-system")
	}
	if pod == nil || len(pod.Spec.Containers) == 0 {
		return Target{}, false
	}
	return Target{
		Namespace: pod.Metadata.Namespace,
		Pod:       pod.Metadata.Name,
		Container: pod.Spec.Containers[0].Name,
	}, true
}

func firstRunning(list model.PodList, namespace string) *model.Pod {
	for i := range list.Items {
		pod := &list.Items[i]
		if pod.Metadata.Namespace == namespace && pod.Status.Phase == model.PhaseRunning {
			return pod
		}
	}
	return nil
}
