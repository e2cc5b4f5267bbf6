package engine

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/praekeltfoundation/secret-sync-controller/internal/config"
	"github.com/praekeltfoundation/secret-sync-controller/internal/events"
	"github.com/praekeltfoundation/secret-sync-controller/internal/secretref"
	"github.com/praekeltfoundation/secret-sync-controller/internal/watchregistry"
)

var _ = Describe("Sync engine", func() {
	var (
		ctx       context.Context
		cfg       config.ControllerConfig
		syncTo    string
		watchKey  string
		k8sClient client.Client
		eng       *Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = config.DefaultControllerConfig
		syncTo = cfg.SyncToAnnotation()
		watchKey = cfg.WatchAnnotation()
	})

	mkSource := func(namespace, name, destinations string, data map[string][]byte) *corev1.Secret {
		return &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Namespace:   namespace,
				Name:        name,
				Annotations: map[string]string{syncTo: destinations},
			},
			Data: data,
		}
	}

	mkDestination := func(namespace, name string, data map[string][]byte, watched bool) *corev1.Secret {
		secret := &corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{
				Namespace: namespace,
				Name:      name,
			},
			Data: data,
		}
		if watched {
			secret.Annotations = map[string]string{watchKey: "true"}
		}
		return secret
	}

	newEngine := func(objs ...client.Object) {
		k8sClient = fake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()
		eng = &Engine{
			Client:   k8sClient,
			Log:      logf.Log.WithName("engine"),
			Config:   cfg,
			Registry: watchregistry.New(),
		}
	}

	getSecret := func(namespace, name string) *corev1.Secret {
		secret := &corev1.Secret{}
		key := types.NamespacedName{Namespace: namespace, Name: name}
		ExpectWithOffset(1, k8sClient.Get(ctx, key, secret)).To(Succeed())
		return secret
	}

	Context("Copy", func() {
		It("Should copy data and add the watch annotation", func() {
			src := mkSource("ns", "src", "dst", map[string][]byte{"foo": []byte("hello")})
			newEngine(src, mkDestination("ns", "dst", nil, false))

			Expect(eng.Copy(ctx, src)).To(Succeed())

			dst := getSecret("ns", "dst")
			Expect(dst.Annotations).To(HaveKeyWithValue(watchKey, "true"))
			Expect(dst.Data).To(Equal(map[string][]byte{"foo": []byte("hello")}))
		})

		It("Should keep destination fields the source does not carry", func() {
			src := mkSource("ns", "src", "dst", map[string][]byte{"foo": []byte("hello")})
			dstData := map[string][]byte{"bar": []byte("goodbye"), "foo": []byte("stale")}
			newEngine(src, mkDestination("ns", "dst", dstData, false))

			Expect(eng.Copy(ctx, src)).To(Succeed())

			dst := getSecret("ns", "dst")
			Expect(dst.Data).To(Equal(map[string][]byte{
				"foo": []byte("hello"),
				"bar": []byte("goodbye"),
			}))
		})

		It("Should be idempotent for unchanged source data", func() {
			src := mkSource("ns", "src", "dst", map[string][]byte{"foo": []byte("hello")})
			newEngine(src, mkDestination("ns", "dst", nil, false))

			Expect(eng.Copy(ctx, src)).To(Succeed())
			first := getSecret("ns", "dst")

			Expect(eng.Copy(ctx, src)).To(Succeed())
			second := getSecret("ns", "dst")

			Expect(second.Data).To(Equal(first.Data))
			Expect(second.Annotations).To(Equal(first.Annotations))
		})

		It("Should skip a missing destination without failing", func() {
			src := mkSource("ns", "src", "missing", map[string][]byte{"foo": []byte("hello")})
			newEngine(src)

			Expect(eng.Copy(ctx, src)).To(Succeed())
		})

		It("Should sync remaining destinations when one is missing", func() {
			src := mkSource("ns", "src", "missing,ns2/dst", map[string][]byte{"foo": []byte("hello")})
			newEngine(src, mkDestination("ns2", "dst", nil, false))

			Expect(eng.Copy(ctx, src)).To(Succeed())

			dst := getSecret("ns2", "dst")
			Expect(dst.Data).To(Equal(map[string][]byte{"foo": []byte("hello")}))
			Expect(dst.Annotations).To(HaveKeyWithValue(watchKey, "true"))
		})

		It("Should fan out to every declared destination in one call", func() {
			src := mkSource("ns", "src", "a,ns2/b", map[string][]byte{"foo": []byte("hello")})
			newEngine(src,
				mkDestination("ns", "a", nil, false),
				mkDestination("ns2", "b", nil, false),
			)

			Expect(eng.Copy(ctx, src)).To(Succeed())

			Expect(getSecret("ns", "a").Data).To(HaveKeyWithValue("foo", []byte("hello")))
			Expect(getSecret("ns2", "b").Data).To(HaveKeyWithValue("foo", []byte("hello")))
		})
	})

	Context("Source events", func() {
		It("Should record the mapping and sync on a created event", func() {
			src := mkSource("ns", "src", "dst", map[string][]byte{"foo": []byte("hello")})
			newEngine(src, mkDestination("ns", "dst", nil, false))

			evt := events.Event{Type: events.EventCreated, Secret: src}
			Expect(eng.HandleSourceEvent(ctx, evt)).To(Succeed())

			dst := getSecret("ns", "dst")
			Expect(dst.Data).To(Equal(map[string][]byte{"foo": []byte("hello")}))
			Expect(dst.Annotations).To(HaveKeyWithValue(watchKey, "true"))

			dstRef := secretref.SecretRef{Namespace: "ns", Name: "dst"}
			Expect(eng.Registry.SourcesFor(dstRef)).To(ConsistOf(
				secretref.SecretRef{Namespace: "ns", Name: "src"},
			))
		})

		It("Should sync on an initial-listing event", func() {
			src := mkSource("ns", "src", "dst", map[string][]byte{"foo": []byte("hello")})
			newEngine(src, mkDestination("ns", "dst", nil, false))

			evt := events.Event{Type: events.EventListed, Secret: src}
			Expect(eng.HandleSourceEvent(ctx, evt)).To(Succeed())

			Expect(getSecret("ns", "dst").Data).To(HaveKeyWithValue("foo", []byte("hello")))
		})

		It("Should do nothing for a deleted source", func() {
			src := mkSource("ns", "src", "dst", map[string][]byte{"foo": []byte("hello")})
			newEngine(mkDestination("ns", "dst", map[string][]byte{"bar": []byte("keep")}, false))

			evt := events.Event{Type: events.EventDeleted, Secret: src}
			Expect(eng.HandleSourceEvent(ctx, evt)).To(Succeed())

			dst := getSecret("ns", "dst")
			Expect(dst.Data).To(Equal(map[string][]byte{"bar": []byte("keep")}))
			Expect(dst.Annotations).NotTo(HaveKey(watchKey))
			Expect(eng.Registry.Len()).To(BeZero())
		})

		It("Should re-assert mappings for a recreated source", func() {
			src := mkSource("ns", "src", "dst", map[string][]byte{"foo": []byte("hello")})
			newEngine(src, mkDestination("ns", "dst", nil, false))

			Expect(eng.HandleSourceEvent(ctx, events.Event{Type: events.EventDeleted, Secret: src})).To(Succeed())
			Expect(eng.HandleSourceEvent(ctx, events.Event{Type: events.EventCreated, Secret: src})).To(Succeed())

			dstRef := secretref.SecretRef{Namespace: "ns", Name: "dst"}
			Expect(eng.Registry.SourcesFor(dstRef)).To(HaveLen(1))
		})
	})

	Context("Destination events", func() {
		It("Should do nothing when no source is registered", func() {
			dst := mkDestination("ns", "dst", map[string][]byte{"bar": []byte("keep")}, true)
			newEngine(dst)

			evt := events.Event{Type: events.EventModified, Secret: dst}
			Expect(eng.HandleDestinationEvent(ctx, evt)).To(Succeed())

			Expect(getSecret("ns", "dst").Data).To(Equal(map[string][]byte{"bar": []byte("keep")}))
		})

		It("Should restore drifted destination data from the live source", func() {
			By("Syncing once so the mapping is registered")
			src := mkSource("ns", "src", "dst", map[string][]byte{"foo": []byte("hello")})
			newEngine(src, mkDestination("ns", "dst", nil, false))
			Expect(eng.HandleSourceEvent(ctx, events.Event{Type: events.EventCreated, Secret: src})).To(Succeed())

			By("Patching the destination out from under the controller")
			dst := getSecret("ns", "dst")
			dst.Data["foo"] = []byte("goodbye")
			Expect(k8sClient.Update(ctx, dst)).To(Succeed())

			By("Reconciling the destination")
			evt := events.Event{Type: events.EventModified, Secret: dst}
			Expect(eng.HandleDestinationEvent(ctx, evt)).To(Succeed())

			Expect(getSecret("ns", "dst").Data).To(Equal(map[string][]byte{"foo": []byte("hello")}))
		})

		It("Should sync the source's current data, not a snapshot", func() {
			src := mkSource("ns", "src", "dst", map[string][]byte{"foo": []byte("hello")})
			newEngine(src, mkDestination("ns", "dst", nil, false))
			Expect(eng.HandleSourceEvent(ctx, events.Event{Type: events.EventCreated, Secret: src})).To(Succeed())

			By("Changing the source independently of any source event")
			live := getSecret("ns", "src")
			live.Data["foo"] = []byte("fresh")
			Expect(k8sClient.Update(ctx, live)).To(Succeed())

			By("Delivering a destination event")
			dst := getSecret("ns", "dst")
			evt := events.Event{Type: events.EventModified, Secret: dst}
			Expect(eng.HandleDestinationEvent(ctx, evt)).To(Succeed())

			Expect(getSecret("ns", "dst").Data).To(Equal(map[string][]byte{"foo": []byte("fresh")}))
		})

		It("Should re-sync all of the source's destinations, not just the triggering one", func() {
			src := mkSource("ns", "src", "a,b", map[string][]byte{"foo": []byte("hello")})
			newEngine(src,
				mkDestination("ns", "a", nil, false),
				mkDestination("ns", "b", nil, false),
			)
			Expect(eng.HandleSourceEvent(ctx, events.Event{Type: events.EventCreated, Secret: src})).To(Succeed())

			By("Drifting both destinations")
			for _, name := range []string{"a", "b"} {
				drifted := getSecret("ns", name)
				drifted.Data["foo"] = []byte("drift")
				Expect(k8sClient.Update(ctx, drifted)).To(Succeed())
			}

			By("Delivering an event for destination a only")
			evt := events.Event{Type: events.EventModified, Secret: getSecret("ns", "a")}
			Expect(eng.HandleDestinationEvent(ctx, evt)).To(Succeed())

			Expect(getSecret("ns", "a").Data).To(HaveKeyWithValue("foo", []byte("hello")))
			Expect(getSecret("ns", "b").Data).To(HaveKeyWithValue("foo", []byte("hello")))
		})

		It("Should skip a registered source that no longer exists", func() {
			src := mkSource("ns", "src", "dst", map[string][]byte{"foo": []byte("hello")})
			dst := mkDestination("ns", "dst", map[string][]byte{"bar": []byte("keep")}, true)
			newEngine(dst)

			By("Registering the edge without the source existing in the store")
			eng.Registry.Record(secretref.FromObject(src), secretref.FromObject(dst))

			evt := events.Event{Type: events.EventModified, Secret: dst}
			Expect(eng.HandleDestinationEvent(ctx, evt)).To(Succeed())

			Expect(getSecret("ns", "dst").Data).To(Equal(map[string][]byte{"bar": []byte("keep")}))
		})

		It("Should do nothing for a deleted destination", func() {
			src := mkSource("ns", "src", "dst", map[string][]byte{"foo": []byte("hello")})
			dst := mkDestination("ns", "dst", nil, true)
			newEngine(src)
			eng.Registry.Record(secretref.FromObject(src), secretref.FromObject(dst))

			evt := events.Event{Type: events.EventDeleted, Secret: dst}
			Expect(eng.HandleDestinationEvent(ctx, evt)).To(Succeed())

			Expect(getSecret("ns", "src").Data).To(Equal(map[string][]byte{"foo": []byte("hello")}))
		})
	})

	Context("Dispatch integration", func() {
		It("Should handle a dual-role secret as source and destination", func() {
			By("Creating a chain src -> mid -> sink")
			src := mkSource("ns", "src", "mid", map[string][]byte{"foo": []byte("hello")})
			mid := &corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{
					Namespace: "ns",
					Name:      "mid",
					Annotations: map[string]string{
						syncTo:   "sink",
						watchKey: "true",
					},
				},
				Data: map[string][]byte{"mid-key": []byte("mid-value")},
			}
			newEngine(src, mid, mkDestination("ns", "sink", nil, false))
			d := events.NewDispatcher(eng.Routes()...)

			By("Delivering the source event for src")
			Expect(d.Dispatch(ctx, events.Event{Type: events.EventCreated, Secret: src})).To(Succeed())

			By("Delivering the event for mid, which is both roles at once")
			Expect(d.Dispatch(ctx, events.Event{Type: events.EventModified, Secret: getSecret("ns", "mid")})).To(Succeed())

			By("Verifying mid received src's data and sink received mid's")
			Expect(getSecret("ns", "mid").Data).To(HaveKeyWithValue("foo", []byte("hello")))
			sink := getSecret("ns", "sink")
			Expect(sink.Data).To(HaveKeyWithValue("mid-key", []byte("mid-value")))
			Expect(sink.Annotations).To(HaveKeyWithValue(watchKey, "true"))
		})
	})
})
