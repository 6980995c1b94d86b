package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/telhawk-systems/auditflow/internal/metrics"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ServiceRef identifies a Service registration.
type ServiceRef struct {
	Name      string
	Namespace string

	// Port overrides the first declared port when non-zero.
	Port int

	// Scheme defaults to http.
	Scheme string
}

func (s ServiceRef) String() string {
	return s.Namespace + "/" + s.Name
}

// Kubernetes resolves a Service through the cluster API on every call.
type Kubernetes struct {
	client  kubernetes.Interface
	service ServiceRef
	logger  *slog.Logger
}

// NewKubernetes creates a cluster resolver.
func NewKubernetes(client kubernetes.Interface, service ServiceRef, logger *slog.Logger) *Kubernetes {
	if service.Scheme == "" {
		service.Scheme = "http"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Kubernetes{
		client:  client,
		service: service,
		logger:  logger.With(slog.String("component", "discovery"), slog.String("service", service.String())),
	}
}

// ResolveEndpoint builds the base URL from the service address and port.
// The address is the ClusterIP; headless services resolve to their cluster DNS name.
func (k *Kubernetes) ResolveEndpoint(ctx context.Context) (string, error) {
	svc, err := k.client.CoreV1().Services(k.service.Namespace).Get(ctx, k.service.Name, metav1.GetOptions{})
	if err != nil {
		metrics.DiscoveryLookups.WithLabelValues("cluster", "error").Inc()
		if apierrors.IsNotFound(err) {
			return "", &DiscoveryError{Target: k.service.String(), Err: ErrServiceNotFound}
		}
		return "", &DiscoveryError{Target: k.service.String(), Err: err}
	}

	port := k.service.Port
	if port == 0 {
		if len(svc.Spec.Ports) == 0 {
			metrics.DiscoveryLookups.WithLabelValues("cluster", "error").Inc()
			return "", &DiscoveryError{Target: k.service.String(), Err: ErrNoPorts}
		}
		port = int(svc.Spec.Ports[0].Port)
	}

	url := fmt.Sprintf("%s://%s", k.service.Scheme, net.JoinHostPort(serviceHost(svc), strconv.Itoa(port)))
	metrics.DiscoveryLookups.WithLabelValues("cluster", "ok").Inc()
	k.logger.Debug("Resolved service endpoint", slog.String("url", url))
	return url, nil
}

func serviceHost(svc *corev1.Service) string {
	ip := svc.Spec.ClusterIP
	if ip == "" || ip == corev1.ClusterIPNone {
		return fmt.Sprintf("%s.%s.svc.cluster.local", svc.Name, svc.Namespace)
	}
	return ip
}

// NewClientset creates a clientset from a kubeconfig path, or from the
// in-cluster service account when the path is empty.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	var (
		restCfg *rest.Config
		err     error
	)
	if kubeconfig == "" {
		restCfg, err = rest.InClusterConfig()
	} else {
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("load kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("build kubernetes clientset: %w", err)
	}
	return clientset, nil
}
