package nodetype

import "github.com/coralrepo/coral/internal/ids"

// Well-known names referenced by the core itself (spec §4.5.6, §4.1.1 step
// 4). Registrations of built-in types are expected to use exactly these.
var (
	RootType          = ids.QualifiedName{Namespace: "nt", Local: "base"}
	Unstructured      = ids.QualifiedName{Namespace: "nt", Local: "unstructured"}
	HierarchyNode     = ids.QualifiedName{Namespace: "nt", Local: "hierarchyNode"}
	MixReferenceable  = ids.QualifiedName{Namespace: "mix", Local: "referenceable"}
	MixCreated        = ids.QualifiedName{Namespace: "mix", Local: "created"}
	MixLastModified   = ids.QualifiedName{Namespace: "mix", Local: "lastModified"}

	PropPrimaryType = ids.QualifiedName{Namespace: "jcr", Local: "primaryType"}
	PropMixinTypes  = ids.QualifiedName{Namespace: "jcr", Local: "mixinTypes"}
	PropUUID        = ids.QualifiedName{Namespace: "jcr", Local: "uuid"}
	PropCreated     = ids.QualifiedName{Namespace: "jcr", Local: "created"}
	PropLastModified = ids.QualifiedName{Namespace: "jcr", Local: "lastModified"}
)
