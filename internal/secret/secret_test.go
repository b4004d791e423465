package secret

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	vault "github.com/hashicorp/vault/api"
	"github.com/opsdesk/opsdesk/pkg/env"
	"github.com/stretchr/testify/suite"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

type fakeVault struct {
	response *vault.Secret
	err      error
	lastPath string
}

func (f *fakeVault) ReadWithContext(_ context.Context, path string) (*vault.Secret, error) {
	f.lastPath = path
	return f.response, f.err
}

type SecretSuite struct {
	suite.Suite
	ctx context.Context
}

func TestSecretSuite(t *testing.T) {
	suite.Run(t, new(SecretSuite))
}

func (s *SecretSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *SecretSuite) TestParse() {
	ref, err := Parse("secret://K8S/ops/google/key.json?namespace=prod")
	s.Require().NoError(err)
	s.Equal("k8s", ref.Provider)
	s.Equal([]string{"ops", "google", "key.json"}, ref.Segments)
	s.Equal("prod", ref.Param("namespace"))

	_, err = Parse("https://example.com/x")
	s.Error(err)
	_, err = Parse("secret:///path")
	s.Error(err)
}

func (s *SecretSuite) TestValuePassesLiteralsThrough() {
	value, err := Value(s.ctx, nil, "plain-token")
	s.Require().NoError(err)
	s.Equal("plain-token", value)

	_, err = Value(s.ctx, nil, "secret://env/TOKEN")
	s.Error(err)
}

func (s *SecretSuite) TestEnvResolver() {
	s.T().Setenv("OPS_GOOGLE_KEY", "abc123")
	s.T().Setenv("CUSTOM_NAME", "override")

	value, err := EnvResolver{}.Resolve(s.ctx, "secret://env/OPS/GOOGLE/KEY")
	s.Require().NoError(err)
	s.Equal("abc123", value)

	value, err = EnvResolver{}.Resolve(s.ctx, "secret://env/ignored?name=CUSTOM_NAME")
	s.Require().NoError(err)
	s.Equal("override", value)

	_, err = EnvResolver{}.Resolve(s.ctx, "secret://env/DOES_NOT_EXIST_XYZ")
	s.Error(err)
}

func (s *SecretSuite) TestFileResolver() {
	dir := s.T().TempDir()
	path := filepath.Join(dir, "sa.json")
	s.Require().NoError(os.WriteFile(path, []byte(`{"type":"service_account"}`), 0o600))

	value, err := FileResolver{}.Resolve(s.ctx, "secret://file"+path)
	s.Require().NoError(err)
	s.JSONEq(`{"type":"service_account"}`, value)

	_, err = FileResolver{}.Resolve(s.ctx, "secret://file"+filepath.Join(dir, "missing.json"))
	s.Error(err)
}

func (s *SecretSuite) TestVaultResolver() {
	kv2 := &fakeVault{response: &vault.Secret{Data: map[string]any{
		"data": map[string]any{"key": "from-kv2"},
	}}}
	value, err := (&VaultResolver{reader: kv2}).Resolve(s.ctx, "secret://vault/secret/data/google?field=key")
	s.Require().NoError(err)
	s.Equal("from-kv2", value)
	s.Equal("secret/data/google", kv2.lastPath)

	kv1 := &fakeVault{response: &vault.Secret{Data: map[string]any{"password": "hunter2"}}}
	value, err = (&VaultResolver{reader: kv1}).Resolve(s.ctx, "secret://vault/secret/legacy/password")
	s.Require().NoError(err)
	s.Equal("hunter2", value)
	s.Equal("secret/legacy", kv1.lastPath)

	_, err = (&VaultResolver{reader: &fakeVault{err: errors.New("boom")}}).Resolve(s.ctx, "secret://vault/a/b")
	s.Error(err)
	_, err = (&VaultResolver{reader: kv1}).Resolve(s.ctx, "secret://vault/onlypath")
	s.Error(err)

	_, err = NewVaultResolver(VaultConfig{})
	s.Error(err)
}

func (s *SecretSuite) TestKubernetesResolver() {
	r := NewKubernetesResolver("", "opsdesk")
	r.client = fake.NewClientset(
		&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "google", Namespace: "opsdesk"},
			Data:       map[string][]byte{"key.json": []byte("default-ns")},
		},
		&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "google", Namespace: "infra"},
			Data:       map[string][]byte{"key.json": []byte("infra-ns")},
		},
	)

	value, err := r.Resolve(s.ctx, "secret://k8s/google/key.json")
	s.Require().NoError(err)
	s.Equal("default-ns", value)

	value, err = r.Resolve(s.ctx, "secret://k8s/infra/google/key.json")
	s.Require().NoError(err)
	s.Equal("infra-ns", value)

	_, err = r.Resolve(s.ctx, "secret://k8s/google/missing")
	s.Error(err)
	_, err = r.Resolve(s.ctx, "secret://k8s/onlyone")
	s.Error(err)
}

func (s *SecretSuite) TestFromEnv() {
	registry, err := FromEnv(env.Environment{SecretProviders: "env, file,k8s"})
	s.Require().NoError(err)
	s.Equal([]string{"env", "file", "k8s", "kubernetes"}, registry.Providers())

	s.T().Setenv("REGISTRY_TOKEN", "tok")
	value, err := registry.Resolve(s.ctx, "secret://env/REGISTRY_TOKEN")
	s.Require().NoError(err)
	s.Equal("tok", value)

	_, err = registry.Resolve(s.ctx, "secret://vault/a/b")
	s.Error(err)

	_, err = FromEnv(env.Environment{SecretProviders: "vault"})
	s.Error(err)

	_, err = FromEnv(env.Environment{SecretProviders: "gcp"})
	s.Error(err)
}
