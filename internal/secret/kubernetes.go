package secret

import (
	"context"
	"fmt"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const providerKubernetes = "k8s"

// KubernetesResolver reads secret://k8s/[<namespace>/]<secret>/<key> from
// Kubernetes Secret resources.
type KubernetesResolver struct {
	kubeconfig string
	namespace  string

	once   sync.Once
	client kubernetes.Interface
	err    error
}

func NewKubernetesResolver(kubeconfig, namespace string) *KubernetesResolver {
	if namespace == "" {
		namespace = "default"
	}
	return &KubernetesResolver{kubeconfig: kubeconfig, namespace: namespace}
}

func (r *KubernetesResolver) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := Parse(ref)
	if err != nil {
		return "", err
	}

	namespace, name, key := r.namespace, "", ""
	switch len(parsed.Segments) {
	case 2:
		name, key = parsed.Segments[0], parsed.Segments[1]
	case 3:
		namespace, name, key = parsed.Segments[0], parsed.Segments[1], parsed.Segments[2]
	default:
		return "", fmt.Errorf("kubernetes secret %q must be secret://k8s/[<namespace>/]<secret>/<key>", ref)
	}
	if ns := parsed.Param("namespace"); ns != "" {
		namespace = ns
	}

	client, err := r.clientset()
	if err != nil {
		return "", err
	}

	secret, err := client.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return "", fmt.Errorf("load kubernetes secret %s/%s: %w", namespace, name, err)
	}

	value, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("kubernetes secret %s/%s missing key %s", namespace, name, key)
	}
	return string(value), nil
}

func (r *KubernetesResolver) clientset() (kubernetes.Interface, error) {
	r.once.Do(func() {
		if r.client != nil {
			return
		}

		var cfg *rest.Config
		if r.kubeconfig != "" {
			cfg, r.err = clientcmd.BuildConfigFromFlags("", r.kubeconfig)
		} else if cfg, r.err = rest.InClusterConfig(); r.err != nil {
			rules := clientcmd.NewDefaultClientConfigLoadingRules()
			cfg, r.err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
		}
		if r.err != nil {
			r.err = fmt.Errorf("kubernetes config: %w", r.err)
			return
		}

		r.client, r.err = kubernetes.NewForConfig(cfg)
	})
	return r.client, r.err
}
