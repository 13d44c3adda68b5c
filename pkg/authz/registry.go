package authz

const (
	RoleTenantAdmin  = "tenant-admin"
	RoleSalesManager = "sales-manager"
	RoleSalesRep     = "sales-rep"
	RoleSupportLead  = "support-lead"
	RoleSupportAgent = "support-agent"
	RoleAnonymous    = "anonymous"
)

const (
	ActionRead  = "read"
	ActionAdmin = "admin"
)

const (
	ObjectLeadRoutingRules     = "leadrouting.rules"
	ObjectLeadRoutingDecisions = "leadrouting.decisions"
	ObjectSLAPolicies          = "sla.policies"
	ObjectSLAEvaluations       = "sla.evaluations"
)
