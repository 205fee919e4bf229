// Package policy vets billing plans with Open Policy Agent (OPA) before
// they are applied.
//
// Policies are Rego modules exposing a `deny` set under their package.
// Each entry is either a message string or an object with message,
// severity, kind and key fields. Entries of severity error or critical
// deny the plan; info and warning entries are reported and let it through.
//
// # Input
//
// Policies see the plan and its evaluation context:
//
//	{
//	  "plan": {"mode": "upsert", "steps": [{"kind": "invoice", "key": "...", "action": "transition", "verb": "void"}]},
//	  "counts": {"create": 2, "transition": 1},
//	  "context": {"environment": "production", "operation": "apply", "dry_run": false, "metadata": {}}
//	}
//
// # Built-in Policies
//
//   - bulk-delete: denies plans deleting more than max_deletes entities (default 50)
//   - invoice-void: warns about voids
//   - invoice-charge: warns about charges
//   - production-void: denies voids in production unless allow_void is set
//
// # Usage
//
// The Engine implements billing.Guard:
//
//	eng, err := policy.NewEngine(logger, policy.WithEnvironment("production"))
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"./policies"}); err != nil {
//	    return err
//	}
//	plan, err := svc.Apply(ctx, desired, engine.ModeUpsert, eng)
//
// Custom .rego files may start with a comment block; it becomes the policy
// description, and a "# severity: <level>" line sets the default severity
// of its string entries:
//
//	# Charges need a manual review.
//	# severity: error
//	package acme.no_charge
//
//	import rego.v1
//
//	deny contains msg if {
//	    some step in input.plan.steps
//	    step.verb == "charge"
//	    msg := sprintf("%s would be charged", [step.key])
//	}
//
// Loader.Watch reloads policy directories on change; its callback usually
// hands the policies to Engine.SetPolicies.
package policy
