// Package topicmgr keeps the hub's ownership bookkeeping: which publisher owns a topic,
// which subscribers listen to it, and the uniqueness of component names.
//
// Rules enforced by the Registry:
//   - each topic has at most one owning publisher
//   - publisher names and subscriber names are each unique
//   - a topic exists only once a publisher or subscriber references it
//   - a failed registration leaves the registry unchanged
//
// Usage:
//
//	reg := topicmgr.NewRegistry()
//	if err := reg.RegisterPublisher("cam1", []string{"input_images"}); err != nil {
//		return err
//	}
//	if err := reg.RegisterSubscriber("viewer", []string{"input_images"}); err != nil {
//		return err
//	}
//	info, _ := reg.LookupTopic("input_images")
//	// info.Owner == "cam1", info.Subscribers == []string{"viewer"}
//
// The package also defines TopicError, the structured error used across the hub.
// Match kinds with errors.Is:
//
//	if errors.Is(err, topicmgr.ErrRegistrationConflict) {
//		...
//	}
package topicmgr
