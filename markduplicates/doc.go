/*Package markduplicates marks duplicate fragments in coordinate-sorted
  .bam files, and optionally collapses UMI duplicate groups into consensus
  reads.

  Duplicate Marking Concepts:

  A fragment is the set of records that share a read name: the primary
  alignment of each segment, plus any supplementary alignments.  Two
  fragments are duplicates if their keys are identical.  The key of a
  paired fragment is the library plus, for both ends,
    1) reference
    2) unclipped 5' position
    3) read direction (orientation)
  with the ends ordered by (reference, position, direction).  Unpaired reads
  and reads with an unmapped mate have a single-end key.  The key of a pair
  is known as soon as one end is seen if that end carries an MC (mate cigar)
  tag; otherwise it is known once both ends have arrived.

  Partitions:

  The genome is split into fixed-length partitions, and a pool of workers
  claims partitions off a shared queue.  Each worker streams the records of
  its partition in coordinate order through a position cache: a ring buffer
  of fixed capacity indexed by the lower unclipped 5' position of each
  fragment.  When the stream advances past the window, the oldest positions
  are flushed, and every fragment group that shares a position is handed to
  the resolver.

  A record whose mate lies at a lower coordinate, or on another reference,
  is not cached.  It is handed to the partition store, a registry with one
  lock-guarded bucket per partition.  The bucket of a fragment is the
  partition that holds its lowest primary alignment.  Whichever worker
  observes the last missing leg of a fragment completes it and writes it,
  so completion happens exactly once regardless of which partition finishes
  first.  At the end of a partition, its worker submits to the store every
  flushed fragment that still misses a leg, along with its resolved status.

  Resolution:

  Within a flushed group, fragments are partitioned by key.  Without UMIs,
  the fragment with the highest base quality score is primary and the
  rest are duplicates; ties are broken by read name.  With UMIs, fragments
  sharing a key are clustered by UMI (within a configurable edit distance,
  duplex UMIs compared in either order), and each cluster of two or more
  collapses into one consensus record per read end, while its members are
  written flagged as duplicates.

  If the key of any fragment in a flushed group is unknown (the mate has
  not arrived and no MC tag was present), nothing in the group is decided.
  The whole group becomes a candidate group that is classified with the
  same rule once all its keys are known.  A
  fragment completed in the partition store without local siblings is
  resolved alone, and is therefore primary.  Duplicates between such a
  fragment and a fragment resolved in a position cache are not detected.

  Tagging:

  With TagDuplicates, the output carries auxiliary tags:

    DI: the duplicate set id (the read name of the primary, or the
        consensus group id).
    DS: the size of the duplicate set.
    DT: SQ for optical duplicates, LB for library duplicates; only when
        optical detection is enabled.
    DU: the corrected UMI, when UMI correction changed it.
    DL: the number of library (non-optical) duplicates in the set.

  Consensus records are named CNS_<group id> and carry DI, DS and DC (the
  number of members that contributed to the consensus of that read end).
  With UseUmis, the members of a UMI group carry DI and DS even without
  TagDuplicates.

  Completeness:

  Every record read from the input is written exactly once (or dropped when
  RemoveDups is set and the record is a duplicate).  Records whose status
  can not be determined, for example because the mate lies on a contig that
  is not processed, are written with their input flags.  With
  CheckConsistency the multiset of written records is compared to the
  multiset of processed records at the end of the run.
*/
package markduplicates
