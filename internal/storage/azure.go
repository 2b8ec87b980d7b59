package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/lfsgate/lfsgate/internal/apierr"
)

// Azure is an Azure Blob Storage-backed External/Multipart store. Uploads
// are block blobs; multipart uses the uncommitted-block-list protocol.
type Azure struct {
	credential   azblob.SharedKeyCredential
	containerURL azblob.ContainerURL
	pathPrefix   string
	expire       time.Duration
}

type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	EndpointURL   string
	PathPrefix    string
	Expire        time.Duration
}

func NewAzure(cfg AzureConfig) (*Azure, error) {
	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, apierr.Wrap(apierr.StorageError, "failed to create azure credential", err)
	}

	endpoint := cfg.EndpointURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}
	containerURL, err := url.Parse(fmt.Sprintf("%s/%s", endpoint, cfg.ContainerName))
	if err != nil {
		return nil, apierr.Wrap(apierr.StorageError, "failed to parse container URL", err)
	}

	expire := cfg.Expire
	if expire <= 0 {
		expire = 15 * time.Minute
	}

	return &Azure{
		credential:   *credential,
		containerURL: azblob.NewContainerURL(*containerURL, azblob.NewPipeline(credential, azblob.PipelineOptions{})),
		pathPrefix:   cfg.PathPrefix,
		expire:       expire,
	}, nil
}

func (a *Azure) blobURL(prefix, oid string) azblob.BlockBlobURL {
	return a.containerURL.NewBlockBlobURL(blobPath(a.pathPrefix, prefix, oid))
}

func (a *Azure) sasURL(ctx context.Context, blob azblob.BlockBlobURL, perms azblob.BlobSASPermissions, expire time.Duration) (string, error) {
	sasValues := azblob.BlobSASSignatureValues{
		ContainerName: a.containerURL.String(),
		BlobName:      blob.URL().Path,
		Protocol:      azblob.SASProtocolHTTPS,
		StartTime:     time.Now().Add(-5 * time.Minute),
		ExpiryTime:    time.Now().Add(expire),
		Permissions:   perms.String(),
	}
	qs, err := sasValues.NewSASQueryParameters(&a.credential)
	if err != nil {
		return "", apierr.Wrap(apierr.StorageError, "failed to sign SAS token", err)
	}
	u := blob.URL()
	u.RawQuery = qs.Encode()
	return u.String(), nil
}

func (a *Azure) Exists(ctx context.Context, prefix, oid string) (bool, error) {
	_, err := a.blobURL(prefix, oid).GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, apierr.Wrap(apierr.StorageError, "failed to get blob properties", err)
	}
	return true, nil
}

func (a *Azure) GetSize(ctx context.Context, prefix, oid string) (int64, error) {
	props, err := a.blobURL(prefix, oid).GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if isAzureNotFound(err) {
			return 0, apierr.NewNotFound("object not found")
		}
		return 0, apierr.Wrap(apierr.StorageError, "failed to get blob properties", err)
	}
	return props.ContentLength(), nil
}

func (a *Azure) VerifyObject(ctx context.Context, prefix, oid string, size int64) (bool, error) {
	actual, err := a.GetSize(ctx, prefix, oid)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.NotFound {
			return false, nil
		}
		return false, err
	}
	return defaultVerify(size, actual, false)
}

func (a *Azure) GetUploadAction(ctx context.Context, prefix, oid string, size int64, expiresIn int, extra map[string]string) (Action, error) {
	blob := a.blobURL(prefix, oid)
	sas, err := a.sasURL(ctx, blob, azblob.BlobSASPermissions{Create: true, Write: true}, expiryOrDefault(expiresIn, a.expire))
	if err != nil {
		return Action{}, err
	}

	header := map[string]string{"x-ms-blob-type": "BlockBlob"}
	if filename := safeFilename(extra["filename"]); filename != "" {
		header["x-ms-blob-content-type"] = mimeFromFilename(filename)
	}
	return Action{Href: sas, Method: "PUT", Header: header, ExpiresIn: expiresIn}, nil
}

func (a *Azure) GetDownloadAction(ctx context.Context, prefix, oid string, size int64, expiresIn int, extra map[string]string) (Action, error) {
	blob := a.blobURL(prefix, oid)
	sas, err := a.sasURL(ctx, blob, azblob.BlobSASPermissions{Read: true}, expiryOrDefault(expiresIn, a.expire))
	if err != nil {
		return Action{}, err
	}
	return Action{Href: sas, Method: "GET", ExpiresIn: expiresIn}, nil
}

// blockIDOf encodes a zero-based block index as base64 of a fixed-width,
// left-zero-padded 16-byte ASCII decimal string.
func blockIDOf(index int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%016d", index)))
}

// calculateBlocks partitions size into blocks of partSize (the last block
// possibly smaller), returning one Part (pos, size, "contentMD5" digest) per
// block in index order; a block's index is its position in the slice.
func calculateBlocks(size, partSize int64) []Part {
	if size <= 0 || partSize <= 0 {
		return nil
	}
	var parts []Part
	var pos int64
	for idx := 0; pos < size; idx++ {
		remaining := size - pos
		blockSize := partSize
		if remaining < blockSize {
			blockSize = remaining
		}
		parts = append(parts, Part{Pos: pos, Size: blockSize, WantDigest: "contentMD5"})
		_ = idx
		pos += blockSize
	}
	return parts
}

// GetMultipartActions implements Azure's uncommitted-block-list resume
// protocol.
func (a *Azure) GetMultipartActions(ctx context.Context, prefix, oid string, size, partSize int64, expiresIn int, extra map[string]string) ([]Part, Action, Action, error) {
	blob := a.blobURL(prefix, oid)
	plan := calculateBlocks(size, partSize)

	blockList, err := blob.GetBlockList(ctx, azblob.BlockListAll, azblob.LeaseAccessConditions{})
	if err != nil && !isAzureNotFound(err) {
		return nil, Action{}, Action{}, apierr.Wrap(apierr.StorageError, "failed to get block list", err)
	}

	restart := false
	uncommittedSizes := map[string]int64{}
	if err == nil {
		if len(blockList.CommittedBlocks) > 0 {
			restart = true
		}
		for _, b := range blockList.UncommittedBlocks {
			uncommittedSizes[b.Name] = b.Size
		}
		// Size mismatch against a prior partial attempt: restart wholesale.
		for idx, p := range plan {
			if existingSize, ok := uncommittedSizes[blockIDOf(idx)]; ok && existingSize != p.Size {
				restart = true
			}
		}
	}
	if restart {
		if _, derr := blob.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{}); derr != nil && !isAzureNotFound(derr) {
			return nil, Action{}, Action{}, apierr.Wrap(apierr.StorageError, "failed to reset corrupt blob", derr)
		}
		uncommittedSizes = nil
	}

	var parts []Part
	var blockIDs []string
	expire := expiryOrDefault(expiresIn, a.expire)
	for idx, p := range plan {
		id := blockIDOf(idx)
		blockIDs = append(blockIDs, id)

		if existingSize, ok := uncommittedSizes[id]; ok && existingSize == p.Size {
			// Already uploaded with a matching size: resume, skip.
			continue
		}

		stageURL, serr := a.sasURL(ctx, blob, azblob.BlobSASPermissions{Write: true}, expire)
		if serr != nil {
			return nil, Action{}, Action{}, serr
		}
		parts = append(parts, Part{
			Href:       fmt.Sprintf("%s&comp=block&blockid=%s", stageURL, url.QueryEscape(id)),
			Pos:        p.Pos,
			Size:       p.Size,
			ExpiresIn:  expiresIn,
			WantDigest: p.WantDigest,
		})
	}

	commitBody := "<BlockList>"
	for _, id := range blockIDs {
		commitBody += fmt.Sprintf("<Uncommitted>%s</Uncommitted>", id)
	}
	commitBody += "</BlockList>"

	commitURL, cerr := a.sasURL(ctx, blob, azblob.BlobSASPermissions{Write: true}, expire)
	if cerr != nil {
		return nil, Action{}, Action{}, cerr
	}
	abortURL, aerr := a.sasURL(ctx, blob, azblob.BlobSASPermissions{Delete: true}, expire)
	if aerr != nil {
		return nil, Action{}, Action{}, aerr
	}

	commit := Action{
		Href:      fmt.Sprintf("%s&comp=blocklist", commitURL),
		Method:    "PUT",
		Body:      commitBody,
		ExpiresIn: expiresIn,
	}
	abort := Action{Href: abortURL, Method: "DELETE", ExpiresIn: expiresIn}
	return parts, commit, abort, nil
}

func isAzureNotFound(err error) bool {
	serr, ok := err.(azblob.StorageError)
	return ok && serr.ServiceCode() == azblob.ServiceCodeBlobNotFound
}

func mimeFromFilename(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

var (
	_ External  = (*Azure)(nil)
	_ Multipart = (*Azure)(nil)
)
