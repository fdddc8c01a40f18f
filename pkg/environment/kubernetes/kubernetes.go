// Package kubernetes provisions environments in a Kubernetes
// cluster. Each environment is a namespace, isolated by a
// NetworkPolicy, with a Deployment and Service per service and, if
// any service asks for one, a Postgres instance.
package kubernetes

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	k8sretry "k8s.io/client-go/util/retry"

	"github.com/fluxcd/conveyor/pkg/environment"
	"github.com/fluxcd/conveyor/pkg/retry"
)

type Config struct {
	// ClusterDomain is the DNS suffix of in-cluster service names.
	ClusterDomain string
	Replicas      int32
	DatabaseImage string
	// ReadyTimeout bounds how long Create and Update wait for
	// services to become ready.
	ReadyTimeout  time.Duration
	DeleteTimeout time.Duration
	PollInterval  time.Duration
	// AllowFrom selects, by label, the namespaces allowed to reach
	// into environments besides the environment itself.
	AllowFrom map[string]string
	Backoff   retry.Backoff
}

func (c Config) withDefaults() Config {
	if c.ClusterDomain == "" {
		c.ClusterDomain = "cluster.local"
	}
	if c.Replicas < 1 {
		c.Replicas = 1
	}
	if c.DatabaseImage == "" {
		c.DatabaseImage = "postgres:16-alpine"
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 5 * time.Minute
	}
	if c.DeleteTimeout == 0 {
		c.DeleteTimeout = 2 * time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Backoff.Attempts == 0 {
		c.Backoff = retry.DefaultBackoff
	}
	return c
}

type Provisioner struct {
	client kubernetes.Interface
	cfg    Config
	logger log.Logger
}

var _ environment.Provisioner = &Provisioner{}

func NewProvisioner(client kubernetes.Interface, cfg Config, logger log.Logger) *Provisioner {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Provisioner{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// NewClientset connects using the kubeconfig file given or, if none
// is given, the service account of the pod we're running in.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	var restConfig *rest.Config
	var err error
	if kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, errors.Wrap(err, "loading cluster configuration")
	}
	return kubernetes.NewForConfig(restConfig)
}

// call runs f, retrying it if it fails in a way that might not
// happen next time.
func (p *Provisioner) call(ctx context.Context, op, id string, f func(context.Context) error) error {
	return p.cfg.Backoff.Do(ctx, log.With(p.logger, "environment", id), op, func(ctx context.Context) error {
		return classify(op, id, f(ctx))
	})
}

func classify(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var pe *environment.ProvisionError
	if errors.As(err, &pe) {
		return err
	}
	var netErr net.Error
	temporary := apierrors.IsServerTimeout(err) ||
		apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) ||
		apierrors.IsInternalError(err) ||
		apierrors.IsServiceUnavailable(err) ||
		apierrors.IsUnexpectedServerError(err) ||
		errors.As(err, &netErr)
	return &environment.ProvisionError{Op: op, Environment: id, Temporary: temporary, Err: err}
}

func (p *Provisioner) endpoint(id, service string, port int) string {
	return fmt.Sprintf("http://%s.%s.svc.%s:%d", service, id, p.cfg.ClusterDomain, port)
}

func (p *Provisioner) binding(id string, svc environment.ServiceSpec) environment.Binding {
	return environment.Binding{
		Service:    svc.Name,
		Version:    svc.Version,
		Endpoint:   p.endpoint(id, svc.Name, svc.ListenPort()),
		HealthPath: svc.HealthEndpoint(),
	}
}

func validate(spec environment.Spec) error {
	if errs := validation.IsDNS1123Label(spec.ID); len(errs) > 0 {
		return errors.Errorf("environment id %q: %s", spec.ID, strings.Join(errs, "; "))
	}
	seen := map[string]bool{}
	for _, svc := range spec.Services {
		if errs := validation.IsDNS1123Label(svc.Name); len(errs) > 0 {
			return errors.Errorf("service name %q: %s", svc.Name, strings.Join(errs, "; "))
		}
		if svc.Name == databaseName {
			return errors.Errorf("service name %q is reserved", svc.Name)
		}
		if seen[svc.Name] {
			return errors.Errorf("service %q given more than once", svc.Name)
		}
		if svc.Image.Name.String() == "" {
			return errors.Errorf("service %q has no image", svc.Name)
		}
		seen[svc.Name] = true
	}
	return nil
}

func (p *Provisioner) Create(ctx context.Context, kind environment.Kind, spec environment.Spec) (environment.Environment, error) {
	if err := validate(spec); err != nil {
		return environment.Environment{}, &environment.ProvisionError{Op: "create", Environment: spec.ID, Err: err}
	}
	id := spec.ID
	logger := log.With(p.logger, "environment", id, "kind", kind)

	// If the namespace can't be created, there's nothing to clean up;
	// and if it already exists, it is not ours to clean up.
	if err := p.call(ctx, "create", id, func(ctx context.Context) error {
		_, err := p.client.CoreV1().Namespaces().Create(ctx, makeNamespace(kind, id), metav1.CreateOptions{})
		return err
	}); err != nil {
		return environment.Environment{}, err
	}
	logger.Log("info", "namespace created")

	env, err := p.createResources(ctx, kind, spec)
	if err == nil {
		err = p.waitReady(ctx, id, deploymentNames(spec))
	}
	if err != nil {
		logger.Log("err", err, "action", "destroying partially created environment")
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DeleteTimeout)
		defer cancel()
		if derr := p.Destroy(cleanupCtx, id); derr != nil {
			logger.Log("warning", "cleaning up after failed create", "err", derr)
		}
		return environment.Environment{}, err
	}
	env.State = environment.Ready
	logger.Log("info", "environment ready", "services", len(spec.Services))
	return env, nil
}

func deploymentNames(spec environment.Spec) []string {
	var names []string
	for _, svc := range spec.Services {
		names = append(names, svc.Name)
	}
	if spec.NeedsDatabase() {
		names = append(names, databaseName)
	}
	return names
}

func (p *Provisioner) createResources(ctx context.Context, kind environment.Kind, spec environment.Spec) (environment.Environment, error) {
	id := spec.ID
	create := func(what string, f func(context.Context) error) error {
		return p.call(ctx, "create", id, func(ctx context.Context) error {
			return errors.Wrapf(f(ctx), "creating %s", what)
		})
	}

	if err := create("network policy", func(ctx context.Context) error {
		_, err := p.client.NetworkingV1().NetworkPolicies(id).Create(ctx, makeNetworkPolicy(id, p.cfg.AllowFrom), metav1.CreateOptions{})
		return err
	}); err != nil {
		return environment.Environment{}, err
	}

	withDatabase := spec.NeedsDatabase()
	if withDatabase {
		if err := create("database", func(ctx context.Context) error {
			if _, err := p.client.CoreV1().Secrets(id).Create(ctx, makeDatabaseSecret(id), metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
				return err
			}
			if _, err := p.client.AppsV1().Deployments(id).Create(ctx, makeDatabase(id, p.cfg.DatabaseImage), metav1.CreateOptions{}); err != nil && !apierrors.IsAlreadyExists(err) {
				return err
			}
			_, err := p.client.CoreV1().Services(id).Create(ctx, makeService(id, databaseName, databasePort), metav1.CreateOptions{})
			if apierrors.IsAlreadyExists(err) {
				return nil
			}
			return err
		}); err != nil {
			return environment.Environment{}, err
		}
	}

	env := environment.Environment{
		ID:         id,
		Kind:       kind,
		NetworkRef: id,
		Bindings:   map[string]environment.Binding{},
		State:      environment.Provisioning,
	}
	for _, svc := range spec.Services {
		svc := svc
		if err := create("service "+svc.Name, func(ctx context.Context) error {
			return p.createService(ctx, id, svc, withDatabase)
		}); err != nil {
			return environment.Environment{}, err
		}
		env.Bindings[svc.Name] = p.binding(id, svc)
	}
	return env, nil
}

func (p *Provisioner) createService(ctx context.Context, id string, svc environment.ServiceSpec, withDatabase bool) error {
	_, err := p.client.AppsV1().Deployments(id).Create(ctx, makeDeployment(id, svc, p.cfg.Replicas, withDatabase), metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return err
	}
	_, err = p.client.CoreV1().Services(id).Create(ctx, makeService(id, svc.Name, svc.ListenPort()), metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return err
	}
	return nil
}

// waitReady polls the named deployments until their rollouts are
// complete, a rollout is stuck, or the ready timeout passes.
func (p *Provisioner) waitReady(ctx context.Context, id string, names []string) error {
	var pending []string
	err := wait.PollUntilContextTimeout(ctx, p.cfg.PollInterval, p.cfg.ReadyTimeout, true, func(ctx context.Context) (bool, error) {
		pending = pending[:0]
		for _, name := range names {
			d, err := p.client.AppsV1().Deployments(id).Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				if apierrors.IsNotFound(err) || isTransient(classify("wait", id, err)) {
					pending = append(pending, name+": "+err.Error())
					continue
				}
				return false, classify("wait", id, err)
			}
			status := deploymentRollout(d)
			if status.Stuck {
				return false, &environment.ProvisionError{
					Op:          "wait",
					Environment: id,
					Err:         errors.Errorf("rollout of %s is stuck: %s", name, strings.Join(status.Messages, "; ")),
				}
			}
			if !status.complete() {
				pending = append(pending, name+": "+status.String())
			}
		}
		return len(pending) == 0, nil
	})
	if err == nil {
		return nil
	}
	var pe *environment.ProvisionError
	if errors.As(err, &pe) {
		return err
	}
	if ctx.Err() != nil {
		return &environment.ProvisionError{Op: "wait", Environment: id, Err: ctx.Err()}
	}
	if wait.Interrupted(err) {
		return &environment.ProvisionError{
			Op:          "wait",
			Environment: id,
			Err:         errors.Errorf("not ready after %s: %s", p.cfg.ReadyTimeout, strings.Join(pending, ", ")),
		}
	}
	return classify("wait", id, err)
}

func isTransient(err error) bool {
	var pe *environment.ProvisionError
	return errors.As(err, &pe) && pe.Temporary
}

// namespace gets the environment's namespace, making sure it is one
// we created.
func (p *Provisioner) namespace(ctx context.Context, id string) (*corev1.Namespace, error) {
	var ns *corev1.Namespace
	err := p.call(ctx, "get", id, func(ctx context.Context) error {
		var err error
		ns, err = p.client.CoreV1().Namespaces().Get(ctx, id, metav1.GetOptions{})
		return err
	})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, &environment.NotFoundError{ID: id}
		}
		return nil, err
	}
	if !isManaged(ns.ObjectMeta) {
		return nil, &environment.ProvisionError{Op: "get", Environment: id, Err: errors.Errorf("namespace %s is not managed by conveyor", id)}
	}
	return ns, nil
}

func (p *Provisioner) Get(ctx context.Context, id string) (environment.Environment, error) {
	ns, err := p.namespace(ctx, id)
	if err != nil {
		return environment.Environment{}, err
	}
	var deployments *appsv1.DeploymentList
	selector := labels.SelectorFromSet(labels.Set{LabelManagedBy: managedBy}).String()
	if err := p.call(ctx, "get", id, func(ctx context.Context) error {
		var err error
		deployments, err = p.client.AppsV1().Deployments(id).List(ctx, metav1.ListOptions{LabelSelector: selector})
		return err
	}); err != nil {
		return environment.Environment{}, err
	}

	env := environment.Environment{
		ID:         id,
		Kind:       environment.Kind(ns.Labels[LabelEnvironmentKind]),
		NetworkRef: id,
		Bindings:   map[string]environment.Binding{},
		State:      environment.Ready,
	}
	sort.Slice(deployments.Items, func(i, j int) bool { return deployments.Items[i].Name < deployments.Items[j].Name })
	for i := range deployments.Items {
		d := &deployments.Items[i]
		if !deploymentRollout(d).complete() {
			env.State = environment.Degraded
		}
		if d.Name == databaseName {
			continue
		}
		version, _ := deployedVersion(d)
		port := containerPort(d)
		env.Bindings[d.Name] = environment.Binding{
			Service:    d.Name,
			Version:    version,
			Endpoint:   p.endpoint(id, d.Name, port),
			HealthPath: healthPath(d),
		}
	}
	if ns.Status.Phase == corev1.NamespaceTerminating || ns.DeletionTimestamp != nil {
		env.State = environment.TearingDown
	}
	return env, nil
}

// Update points each service's deployment at the version given,
// creating any that are missing. Services already running their
// version are left alone; if all are, nothing is changed and nothing
// is waited for.
func (p *Provisioner) Update(ctx context.Context, id string, services []environment.ServiceSpec) error {
	logger := log.With(p.logger, "environment", id)
	if _, err := p.namespace(ctx, id); err != nil {
		return err
	}
	withDatabase := p.hasDatabase(ctx, id)

	var changed []string
	for _, svc := range services {
		svc := svc
		var did bool
		err := p.call(ctx, "update", id, func(ctx context.Context) error {
			return k8sretry.RetryOnConflict(k8sretry.DefaultRetry, func() error {
				did = false
				deployments := p.client.AppsV1().Deployments(id)
				d, err := deployments.Get(ctx, svc.Name, metav1.GetOptions{})
				if apierrors.IsNotFound(err) {
					did = true
					return p.createService(ctx, id, svc, withDatabase)
				}
				if err != nil {
					return err
				}
				version, image := deployedVersion(d)
				if version == svc.Version && image == svc.Image.Pinned() {
					return nil
				}
				setVersion(d, svc)
				if _, err := deployments.Update(ctx, d, metav1.UpdateOptions{}); err != nil {
					return err
				}
				did = true
				return nil
			})
		})
		if err != nil {
			return err
		}
		if did {
			logger.Log("info", "updating service", "service", svc.Name, "version", svc.Version)
			changed = append(changed, svc.Name)
		}
	}
	if len(changed) == 0 {
		logger.Log("info", "already at target versions")
		return nil
	}
	return p.waitReady(ctx, id, changed)
}

func setVersion(d *appsv1.Deployment, svc environment.ServiceSpec) {
	if d.Annotations == nil {
		d.Annotations = map[string]string{}
	}
	d.Annotations[AnnotationVersion] = svc.Version
	if d.Spec.Template.Annotations == nil {
		d.Spec.Template.Annotations = map[string]string{}
	}
	d.Spec.Template.Annotations[AnnotationVersion] = svc.Version
	containers := d.Spec.Template.Spec.Containers
	for i := range containers {
		if containers[i].Name == svc.Name || len(containers) == 1 {
			containers[i].Image = svc.Image.Pinned()
			for j := range containers[i].Env {
				if containers[i].Env[j].Name == "SERVICE_VERSION" {
					containers[i].Env[j].Value = svc.Version
				}
			}
		}
	}
}

func (p *Provisioner) hasDatabase(ctx context.Context, id string) bool {
	_, err := p.client.AppsV1().Deployments(id).Get(ctx, databaseName, metav1.GetOptions{})
	return err == nil
}

// Destroy deletes the environment's namespace, and with it
// everything in it, then waits for it to be gone.
func (p *Provisioner) Destroy(ctx context.Context, id string) error {
	logger := log.With(p.logger, "environment", id)
	if _, err := p.namespace(ctx, id); environment.IsNotFound(err) {
		return nil
	} else if err != nil {
		return err
	}

	propagation := metav1.DeletePropagationForeground
	if err := p.call(ctx, "destroy", id, func(ctx context.Context) error {
		err := p.client.CoreV1().Namespaces().Delete(ctx, id, metav1.DeleteOptions{PropagationPolicy: &propagation})
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	}); err != nil {
		return err
	}

	err := wait.PollUntilContextTimeout(ctx, p.cfg.PollInterval, p.cfg.DeleteTimeout, true, func(ctx context.Context) (bool, error) {
		_, err := p.client.CoreV1().Namespaces().Get(ctx, id, metav1.GetOptions{})
		return apierrors.IsNotFound(err), nil
	})
	if err != nil {
		return &environment.ProvisionError{Op: "destroy", Environment: id, Temporary: true, Err: errors.Wrap(err, "waiting for namespace to go")}
	}
	logger.Log("info", "environment destroyed")
	return nil
}
