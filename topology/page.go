// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrPageClosed is returned when mutating a page after Close.
	ErrPageClosed = errors.New("topology: page is closed")

	// ErrPrimaryProcess is returned when adding the page's primary
	// process as a remote page.
	ErrPrimaryProcess = errors.New("topology: process is the page's primary process")

	// ErrDuplicateRemotePage is returned when a process already hosts a
	// remote page for this page.
	ErrDuplicateRemotePage = errors.New("topology: process already hosts a remote page")
)

// PageIdentifier identifies a page.
type PageIdentifier uint64

// PageObserver follows process membership changes of a page.
type PageObserver interface {
	// RemotePageAdded is called after a process starts hosting a
	// sub-frame of the page. A returned error is reported to whoever
	// added the remote page; the remote page stays added.
	RemotePageAdded(remotePage *RemotePage) error

	// RemotePageRemoved is called after a process stops hosting a
	// sub-frame of the page.
	RemotePageRemoved(remotePage *RemotePage)

	// PageClosed is called once when the page closes. Observers are
	// unregistered afterwards.
	PageClosed()
}

// RemotePage records that a process hosts a sub-frame of a page.
type RemotePage struct {
	page    *Page
	process *Process
}

// Page returns the page the sub-frame belongs to.
func (remotePage *RemotePage) Page() *Page { return remotePage.page }

// Process returns the process hosting the sub-frame.
func (remotePage *RemotePage) Process() *Process { return remotePage.process }

// Page is one logical browsing unit and the set of processes hosting
// it.
type Page struct {
	identifier  PageIdentifier
	primary     *Process
	remotePages map[ProcessIdentifier]*RemotePage
	observers   []PageObserver
	closed      bool
}

// NewPage creates a page hosted by the given primary process.
func NewPage(identifier PageIdentifier, primary *Process) *Page {
	if primary == nil {
		panic("topology.NewPage: nil primary process")
	}
	return &Page{
		identifier:  identifier,
		primary:     primary,
		remotePages: make(map[ProcessIdentifier]*RemotePage),
	}
}

// Identifier returns the page identifier.
func (page *Page) Identifier() PageIdentifier { return page.identifier }

// PrimaryProcess returns the process hosting the page's main frame.
func (page *Page) PrimaryProcess() *Process { return page.primary }

// Closed reports whether Close has been called.
func (page *Page) Closed() bool { return page.closed }

// ForEachRemotePage calls visit for every remote page in ascending
// process identifier order.
func (page *Page) ForEachRemotePage(visit func(*RemotePage)) {
	identifiers := make([]ProcessIdentifier, 0, len(page.remotePages))
	for identifier := range page.remotePages {
		identifiers = append(identifiers, identifier)
	}
	slices.Sort(identifiers)
	for _, identifier := range identifiers {
		visit(page.remotePages[identifier])
	}
}

// RemotePage returns the remote page hosted by the given process, or
// nil.
func (page *Page) RemotePage(identifier ProcessIdentifier) *RemotePage {
	return page.remotePages[identifier]
}

// RemotePageCount returns the number of remote pages.
func (page *Page) RemotePageCount() int { return len(page.remotePages) }

// AddObserver registers an observer. Registering the same observer
// twice is a no-op.
func (page *Page) AddObserver(observer PageObserver) {
	if slices.Contains(page.observers, observer) {
		return
	}
	page.observers = append(page.observers, observer)
}

// RemoveObserver unregisters an observer. Unknown observers are
// ignored.
func (page *Page) RemoveObserver(observer PageObserver) {
	page.observers = slices.DeleteFunc(page.observers, func(existing PageObserver) bool {
		return existing == observer
	})
}

// ObserverCount returns the number of registered observers.
func (page *Page) ObserverCount() int { return len(page.observers) }

// AddRemotePage records that process now hosts a sub-frame of the
// page and notifies observers. Observer errors are joined and
// returned; the remote page is added regardless.
func (page *Page) AddRemotePage(process *Process) (*RemotePage, error) {
	if page.closed {
		return nil, ErrPageClosed
	}
	if process.Identifier() == page.primary.Identifier() {
		return nil, fmt.Errorf("adding remote page for %s: %w", process.Identifier(), ErrPrimaryProcess)
	}
	if _, exists := page.remotePages[process.Identifier()]; exists {
		return nil, fmt.Errorf("adding remote page for %s: %w", process.Identifier(), ErrDuplicateRemotePage)
	}

	remotePage := &RemotePage{page: page, process: process}
	page.remotePages[process.Identifier()] = remotePage

	var errs []error
	for _, observer := range slices.Clone(page.observers) {
		if err := observer.RemotePageAdded(remotePage); err != nil {
			errs = append(errs, err)
		}
	}
	return remotePage, errors.Join(errs...)
}

// RemoveRemotePage removes the remote page hosted by the given process
// and notifies observers. Removing an absent process is a no-op.
func (page *Page) RemoveRemotePage(identifier ProcessIdentifier) {
	remotePage, exists := page.remotePages[identifier]
	if !exists {
		return
	}
	delete(page.remotePages, identifier)
	for _, observer := range slices.Clone(page.observers) {
		observer.RemotePageRemoved(remotePage)
	}
}

// Close closes the page, notifying and then dropping every observer.
// Remote pages are dropped without RemotePageRemoved notifications:
// PageClosed supersedes them. Close is idempotent.
func (page *Page) Close() {
	if page.closed {
		return
	}
	page.closed = true
	observers := page.observers
	page.observers = nil
	for _, observer := range observers {
		observer.PageClosed()
	}
	clear(page.remotePages)
}
