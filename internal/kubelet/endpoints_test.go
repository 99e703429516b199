package kubelet_test

import (
	"testing"

	"github.com/nodehound/nodehound/internal/kubelet"

	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Parallel()
	vars := kubelet.Vars{
		Namespace: "default",
		Pod:       "nginx",
		Container: "nginx",
	}

	// exact path grammar, including query parameter names, is part of the
	// kubelet API contract
	require.Equal(t, "pods", kubelet.Pods.Resolve(kubelet.Vars{}))
	require.Equal(t, "runningpods", kubelet.RunningPods.Resolve(kubelet.Vars{}))
	require.Equal(t, "debug/pprof/cmdline", kubelet.PprofCmdline.Resolve(kubelet.Vars{}))
	require.Equal(t,
		"containerLogs/default/nginx/nginx",
		kubelet.ContainerLogs.Resolve(vars))
	require.Equal(t,
		"exec/default/nginx/nginx?command=&input=1&output=1&tty=1",
		kubelet.Exec.Resolve(vars))
	require.Equal(t,
		"attach/default/nginx/nginx?command=&input=1&output=1&tty=1",
		kubelet.Attach.Resolve(vars))
	require.Equal(t,
		"run/default/nginx/nginx?cmd=uname -a",
		kubelet.Run.Resolve(kubelet.Vars{Namespace: "default", Pod: "nginx", Container: "nginx", Command: "uname -a"}))
	require.Equal(t,
		"portForward/default/nginx?port=80",
		kubelet.PortForward.Resolve(kubelet.Vars{Namespace: "default", Pod: "nginx", Port: "80"}))
	require.Equal(t,
		"logs/audit/audit.log",
		kubelet.Logs.Resolve(kubelet.Vars{Path: "audit/audit.log"}))
}

func TestHandlerString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "pods", kubelet.Pods.String())
	require.Equal(t, "exec", kubelet.Exec.String())
	require.Equal(t, "debug", kubelet.PprofCmdline.String())
}
