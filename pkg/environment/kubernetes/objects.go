package kubernetes

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/fluxcd/conveyor/pkg/environment"
)

const (
	LabelManagedBy       = "app.kubernetes.io/managed-by"
	LabelEnvironmentKind = "conveyor.io/environment-kind"
	LabelService         = "conveyor.io/service"
	AnnotationVersion    = "conveyor.io/version"

	managedBy = "conveyor"

	databaseName   = "postgres"
	databasePort   = 5432
	databaseUser   = "conveyor"
	databaseSecret = "postgres-credentials"
	passwordKey    = "password"
)

func managedLabels(extra map[string]string) map[string]string {
	labels := map[string]string{LabelManagedBy: managedBy}
	for k, v := range extra {
		labels[k] = v
	}
	return labels
}

func isManaged(meta metav1.ObjectMeta) bool {
	return meta.Labels[LabelManagedBy] == managedBy
}

func makeNamespace(kind environment.Kind, id string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   id,
			Labels: managedLabels(map[string]string{LabelEnvironmentKind: string(kind)}),
		},
	}
}

// makeNetworkPolicy isolates the environment: pods accept traffic
// only from pods in the same namespace, and from namespaces matching
// allowFrom (e.g., where conveyord runs, so it can check health).
func makeNetworkPolicy(id string, allowFrom map[string]string) *networkingv1.NetworkPolicy {
	peers := []networkingv1.NetworkPolicyPeer{
		{PodSelector: &metav1.LabelSelector{}},
	}
	if len(allowFrom) > 0 {
		peers = append(peers, networkingv1.NetworkPolicyPeer{
			NamespaceSelector: &metav1.LabelSelector{MatchLabels: allowFrom},
		})
	}
	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "isolate",
			Namespace: id,
			Labels:    managedLabels(nil),
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
			Ingress:     []networkingv1.NetworkPolicyIngressRule{{From: peers}},
		},
	}
}

func serviceLabels(name string) map[string]string {
	return map[string]string{LabelService: name}
}

func makeDeployment(id string, svc environment.ServiceSpec, replicas int32, withDatabase bool) *appsv1.Deployment {
	port := int32(svc.ListenPort())
	container := corev1.Container{
		Name:  svc.Name,
		Image: svc.Image.Pinned(),
		Ports: []corev1.ContainerPort{{Name: "http", ContainerPort: port}},
		Env: []corev1.EnvVar{
			{Name: "PORT", Value: strconv.Itoa(int(port))},
			{Name: "SERVICE_VERSION", Value: svc.Version},
		},
		ReadinessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: svc.HealthEndpoint(),
					Port: intstr.FromInt32(port),
				},
			},
			PeriodSeconds: 5,
		},
	}
	if withDatabase && svc.Database {
		container.Env = append(container.Env, databaseEnv(id)...)
	}
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:        svc.Name,
			Namespace:   id,
			Labels:      managedLabels(serviceLabels(svc.Name)),
			Annotations: map[string]string{AnnotationVersion: svc.Version},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: serviceLabels(svc.Name)},
			Strategy: appsv1.DeploymentStrategy{Type: appsv1.RollingUpdateDeploymentStrategyType},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels:      managedLabels(serviceLabels(svc.Name)),
					Annotations: map[string]string{AnnotationVersion: svc.Version},
				},
				Spec: corev1.PodSpec{Containers: []corev1.Container{container}},
			},
		},
	}
}

func makeService(id, name string, port int) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: id,
			Labels:    managedLabels(serviceLabels(name)),
		},
		Spec: corev1.ServiceSpec{
			Selector: serviceLabels(name),
			Ports: []corev1.ServicePort{{
				Name:       "http",
				Port:       int32(port),
				TargetPort: intstr.FromInt32(int32(port)),
			}},
		},
	}
}

func databaseEnv(id string) []corev1.EnvVar {
	return []corev1.EnvVar{
		{Name: "DATABASE_HOST", Value: fmt.Sprintf("%s.%s.svc", databaseName, id)},
		{Name: "DATABASE_PORT", Value: strconv.Itoa(databasePort)},
		{Name: "DATABASE_USER", Value: databaseUser},
		{Name: "DATABASE_NAME", Value: databaseUser},
		{Name: "DATABASE_PASSWORD", ValueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: databaseSecret},
				Key:                  passwordKey,
			},
		}},
	}
}

func makeDatabaseSecret(id string) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      databaseSecret,
			Namespace: id,
			Labels:    managedLabels(nil),
		},
		StringData: map[string]string{passwordKey: uuid.NewString()},
	}
}

func makeDatabase(id, image string) *appsv1.Deployment {
	replicas := int32(1)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      databaseName,
			Namespace: id,
			Labels:    managedLabels(serviceLabels(databaseName)),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: serviceLabels(databaseName)},
			Strategy: appsv1.DeploymentStrategy{Type: appsv1.RecreateDeploymentStrategyType},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: managedLabels(serviceLabels(databaseName))},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  databaseName,
						Image: image,
						Ports: []corev1.ContainerPort{{Name: "postgres", ContainerPort: databasePort}},
						Env: []corev1.EnvVar{
							{Name: "POSTGRES_USER", Value: databaseUser},
							{Name: "POSTGRES_DB", Value: databaseUser},
							{Name: "POSTGRES_PASSWORD", ValueFrom: &corev1.EnvVarSource{
								SecretKeyRef: &corev1.SecretKeySelector{
									LocalObjectReference: corev1.LocalObjectReference{Name: databaseSecret},
									Key:                  passwordKey,
								},
							}},
						},
						ReadinessProbe: &corev1.Probe{
							ProbeHandler: corev1.ProbeHandler{
								Exec: &corev1.ExecAction{Command: []string{"pg_isready", "-U", databaseUser}},
							},
							PeriodSeconds: 5,
						},
					}},
				},
			},
		},
	}
}

// rolloutStatus summarises where a deployment's rollout is, in the
// numbers of pods in each state, and any messages that mean it will
// not finish by itself.
type rolloutStatus struct {
	Desired   int32
	Updated   int32
	Ready     int32
	Available int32
	Outdated  int32
	Messages  []string
	// Stuck means the rollout will not make progress without
	// intervention.
	Stuck bool
}

func (s rolloutStatus) complete() bool {
	return s.Updated == s.Desired && s.Ready == s.Desired && s.Available == s.Desired && s.Outdated == 0
}

func (s rolloutStatus) String() string {
	return fmt.Sprintf("%d/%d ready, %d updated, %d outdated", s.Ready, s.Desired, s.Updated, s.Outdated)
}

func deploymentRollout(d *appsv1.Deployment) rolloutStatus {
	desired := int32(1)
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}
	status := rolloutStatus{
		Desired:   desired,
		Updated:   d.Status.UpdatedReplicas,
		Ready:     d.Status.ReadyReplicas,
		Available: d.Status.AvailableReplicas,
		Outdated:  d.Status.Replicas - d.Status.UpdatedReplicas,
	}
	if d.Status.ObservedGeneration < d.Generation {
		// the controller has not seen the latest spec yet
		status.Updated = 0
	}
	for _, c := range d.Status.Conditions {
		if c.Type == appsv1.DeploymentProgressing && c.Status == corev1.ConditionFalse && c.Reason == "ProgressDeadlineExceeded" {
			status.Messages = append(status.Messages, c.Message)
			status.Stuck = true
		}
		if c.Type == appsv1.DeploymentReplicaFailure && c.Status == corev1.ConditionTrue {
			status.Messages = append(status.Messages, c.Message)
		}
	}
	return status
}

// deployedVersion reads the version a deployment is set to run, and
// the image it runs it from.
func deployedVersion(d *appsv1.Deployment) (version, image string) {
	version = d.Annotations[AnnotationVersion]
	if cs := d.Spec.Template.Spec.Containers; len(cs) > 0 {
		image = cs[0].Image
	}
	return version, image
}

func containerPort(d *appsv1.Deployment) int {
	if cs := d.Spec.Template.Spec.Containers; len(cs) > 0 && len(cs[0].Ports) > 0 {
		return int(cs[0].Ports[0].ContainerPort)
	}
	return environment.DefaultPort
}

func healthPath(d *appsv1.Deployment) string {
	if cs := d.Spec.Template.Spec.Containers; len(cs) > 0 {
		if p := cs[0].ReadinessProbe; p != nil && p.HTTPGet != nil {
			return p.HTTPGet.Path
		}
	}
	return environment.DefaultHealthPath
}
