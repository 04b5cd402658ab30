package imap

import (
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/pkg/errors"
)

// ListFolders lists all folders on the IMAP server.
func ListFolders(c *client.Client) ([]string, error) {
	if c == nil {
		return nil, errors.Wrap(ErrProtocol, "client is nil")
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var folders []string
	for m := range mailboxes {
		folders = append(folders, m.Name)
	}

	if err := <-done; err != nil {
		return nil, protocolError(err, "failed to list folders")
	}

	return folders, nil
}

// pickFolder returns the first candidate present in folders, in candidate order.
func pickFolder(folders, candidates []string) (string, bool) {
	existing := make(map[string]struct{}, len(folders))
	for _, f := range folders {
		existing[f] = struct{}{}
	}

	for _, candidate := range candidates {
		if _, ok := existing[candidate]; ok {
			return candidate, true
		}
	}

	return "", false
}

// resolveDraftsFolder lists the server's folders and picks the first configured drafts candidate.
func resolveDraftsFolder(c *client.Client, candidates []string) (string, error) {
	folders, err := ListFolders(c)
	if err != nil {
		return "", err
	}

	folder, ok := pickFolder(folders, candidates)
	if !ok {
		return "", errors.Wrapf(ErrDraftsFolderNotFound, "tried %v", candidates)
	}

	return folder, nil
}
