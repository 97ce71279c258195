// Package alerts implements the collector's rule evaluation engine and webhook
// delivery. Rules are evaluated against an Observation after every stored
// batch; webhooks are delivered to Teams, Slack, or generic HTTP targets.
package alerts
